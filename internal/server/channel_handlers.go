package server

import (
	"io"
	"strings"

	"shieldchat/internal/cache"
	"shieldchat/internal/middleware"
	"shieldchat/internal/models"
	"shieldchat/internal/service"

	"github.com/gofiber/fiber/v2"
)

// JoinChannel adds the caller to the named channel, creating it when it
// does not exist yet.
func (s *Server) JoinChannel(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)

	var req struct {
		ChannelName string `json:"channel_name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, models.NewValidationError("Invalid request body"))
	}

	channel, err := s.chatService.JoinChannel(c.Context(), claims.UserID, strings.TrimSpace(req.ChannelName))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	cache.Invalidate(c.Context(), cache.ChannelKey(channel.ID))
	return c.Status(fiber.StatusOK).JSON(channel)
}

// JoinInitialChannel joins the caller to the reserved home channel.
// Used at account creation time.
func (s *Server) JoinInitialChannel(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)

	finish, err := s.chatService.JoinInitialChannel(c.Context(), claims.UserID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	finish()

	channel, err := s.channelRepo.GetChannelByName(c.Context(), models.ShieldBatteryChannelName)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(channel)
}

// LeaveChannel removes the caller from the channel. When the owner
// leaves, ownership transfers and the new owner's ID is returned.
func (s *Server) LeaveChannel(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	newOwnerID, err := s.chatService.LeaveChannel(c.Context(), claims.UserID, channelID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	cache.Invalidate(c.Context(), cache.ChannelKey(channelID))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"new_owner_id": newOwnerID})
}

// SendChatMessage posts a message to the channel.
func (s *Server) SendChatMessage(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var req struct {
		Message string `json:"message"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, models.NewValidationError("Invalid request body"))
	}

	msg, err := s.chatService.SendChatMessage(c.Context(), channelID, claims.UserID, req.Message)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GetChannelHistory returns a page of channel messages, oldest first.
// beforeTime is a millisecond epoch bound for paging backwards.
func (s *Server) GetChannelHistory(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	limit := queryInt(c, "limit", 0)
	before := queryTime(c, "beforeTime")

	messages, err := s.chatService.GetChannelHistory(
		c.Context(), channelID, claims.UserID, limit, before, claims.IsServerModerator())
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"messages": messages})
}

// DeleteMessage removes a single message. Server moderators only.
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	if !claims.IsServerModerator() {
		return models.RespondWithError(c,
			models.NewChatError(models.ErrNotEnoughPermissions, "Not enough permissions"))
	}

	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	messageID, err := paramInt64(c, "messageId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	if err := s.chatService.DeleteMessage(c.Context(), channelID, messageID); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetChannelUsers returns every member of the channel.
func (s *Server) GetChannelUsers(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	users, err := s.chatService.GetChannelUsers(c.Context(), channelID, claims.UserID, claims.IsServerModerator())
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"users": users})
}

// GetChatUserProfile returns the target member's in-channel profile.
func (s *Server) GetChatUserProfile(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	targetID, err := paramUint(c, "targetId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	profile, err := s.chatService.GetChatUserProfile(c.Context(), channelID, claims.UserID, targetID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(profile)
}

// GetUserPermissions returns the target's per-channel permissions.
func (s *Server) GetUserPermissions(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	targetID, err := paramUint(c, "targetId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	perms, err := s.chatService.GetUserPermissions(c.Context(), channelID, claims.UserID, targetID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(perms)
}

// UpdateUserPermissions rewrites the target's per-channel permissions.
func (s *Server) UpdateUserPermissions(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	targetID, err := paramUint(c, "targetId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var perms models.ChannelPermissions
	if err := c.BodyParser(&perms); err != nil {
		return models.RespondWithError(c, models.NewValidationError("Invalid request body"))
	}

	if err := s.chatService.UpdateUserPermissions(c.Context(), channelID, claims.UserID, targetID, perms); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ModerateUser kicks or bans the target from the channel.
func (s *Server) ModerateUser(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	targetID, err := paramUint(c, "targetId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var req struct {
		Action string `json:"action"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return models.RespondWithError(c, models.NewValidationError("Invalid request body"))
	}

	newOwnerID, err := s.chatService.ModerateUser(
		c.Context(), channelID, claims.UserID, targetID, service.ModerationAction(req.Action), req.Reason)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	cache.Invalidate(c.Context(), cache.ChannelKey(channelID))
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"new_owner_id": newOwnerID})
}

// SearchChannels finds channels by name substring.
func (s *Server) SearchChannels(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	limit := queryInt(c, "limit", 0)
	offset := queryInt(c, "offset", 0)

	var channels []*models.Channel
	err := cache.CacheAside(c.Context(), cache.SearchKey(query, limit, offset), &channels, cache.SearchTTL,
		func() error {
			var fetchErr error
			channels, fetchErr = s.chatService.SearchChannels(c.Context(), query, limit, offset)
			return fetchErr
		})
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"channels": channels})
}

// GetChannel returns the channel's public info.
func (s *Server) GetChannel(c *fiber.Ctx) error {
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var channel models.Channel
	err = cache.CacheAside(c.Context(), cache.ChannelKey(channelID), &channel, cache.ChannelTTL,
		func() error {
			found, fetchErr := s.channelRepo.GetChannel(c.Context(), channelID)
			if fetchErr != nil {
				return fetchErr
			}
			if found == nil {
				return models.NewChatError(models.ErrChannelNotFound, "Channel not found")
			}
			channel = *found
			return nil
		})
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(channel)
}

// EditChannel applies a partial update to the channel row.
func (s *Server) EditChannel(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var patch models.ChannelPatch
	if err := c.BodyParser(&patch); err != nil {
		return models.RespondWithError(c, models.NewValidationError("Invalid request body"))
	}

	channel, err := s.chatService.EditChannel(c.Context(), channelID, claims.UserID, patch)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	cache.InvalidateChannel(c.Context(), channel.ID, channel.Name)
	return c.Status(fiber.StatusOK).JSON(channel)
}

// UpdateUserPreferences stores the caller's per-channel preferences.
func (s *Server) UpdateUserPreferences(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var prefs models.ChannelPreferences
	if err := c.BodyParser(&prefs); err != nil {
		return models.RespondWithError(c, models.NewValidationError("Invalid request body"))
	}

	if err := s.chatService.UpdateUserPreferences(c.Context(), channelID, claims.UserID, prefs); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadChannelImage stores a banner or badge image and patches the
// channel to reference it. Permission checks ride on the patch path, so
// only callers allowed to edit images can complete the upload.
func (s *Server) UploadChannelImage(c *fiber.Ctx) error {
	claims := middleware.ClaimsFromCtx(c)
	channelID, err := paramUint(c, "channelId")
	if err != nil {
		return models.RespondWithError(c, err)
	}

	kind := service.ChannelImageKind(c.Params("kind"))
	if kind != service.ChannelImageBanner && kind != service.ChannelImageBadge {
		return models.RespondWithError(c, models.NewValidationError("Unknown image kind"))
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return models.RespondWithError(c, models.NewValidationError("Missing image file"))
	}
	file, err := fileHeader.Open()
	if err != nil {
		return models.RespondWithError(c, models.NewInternalError(err))
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		return models.RespondWithError(c, models.NewInternalError(err))
	}

	rel, err := s.imageService.Upload(service.UploadChannelImageInput{
		ChannelID:   channelID,
		UserID:      claims.UserID,
		Kind:        kind,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		return models.RespondWithError(c, err)
	}

	var patch models.ChannelPatch
	if kind == service.ChannelImageBanner {
		patch.BannerPath = &rel
	} else {
		patch.BadgePath = &rel
	}

	channel, err := s.chatService.EditChannel(c.Context(), channelID, claims.UserID, patch)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	cache.InvalidateChannel(c.Context(), channel.ID, channel.Name)
	return c.Status(fiber.StatusOK).JSON(channel)
}

// ServeChannelImage serves a previously uploaded channel image.
func (s *Server) ServeChannelImage(c *fiber.Ctx) error {
	full, err := s.imageService.ResolveForServing(c.Params("*"))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendFile(full)
}
