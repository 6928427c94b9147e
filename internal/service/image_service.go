package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"shieldchat/internal/models"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register the webp decoder
)

const (
	DefaultImageUploadDir       = "/tmp/shieldchat/uploads/channels"
	DefaultImageMaxUploadSizeMB = 5

	// Banners are wide; badges are small and square.
	bannerMaxWidth  = 1472
	bannerMaxHeight = 828
	bannerMinWidth  = 736
	bannerMinHeight = 414
	badgeSize       = 80

	channelImageWebPQuality = 80
)

// ChannelImageKind selects the validation rules for an upload.
type ChannelImageKind string

const (
	ChannelImageBanner ChannelImageKind = "banner"
	ChannelImageBadge  ChannelImageKind = "badge"
)

// UploadChannelImageInput carries one banner or badge upload.
type UploadChannelImageInput struct {
	ChannelID   uint
	UserID      uint
	Kind        ChannelImageKind
	Filename    string
	ContentType string
	Content     []byte
}

// ChannelImageService validates and stores channel banner and badge
// images. Rejections surface as InappropriateImage so the API layer
// maps them uniformly.
type ChannelImageService struct {
	uploadDir          string
	maxUploadSizeBytes int64
}

// NewChannelImageService returns a service storing images under
// uploadDir. Zero values fall back to the defaults.
func NewChannelImageService(uploadDir string, maxUploadSizeMB int) *ChannelImageService {
	if uploadDir == "" {
		uploadDir = DefaultImageUploadDir
	}
	if maxUploadSizeMB <= 0 {
		maxUploadSizeMB = DefaultImageMaxUploadSizeMB
	}
	return &ChannelImageService{
		uploadDir:          uploadDir,
		maxUploadSizeBytes: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

// Upload validates the image, re-encodes it as webp, writes it to
// disk, and returns the relative path to store on the channel row.
func (s *ChannelImageService) Upload(in UploadChannelImageInput) (string, error) {
	if in.ChannelID == 0 || in.UserID == 0 {
		return "", models.NewValidationError("Invalid upload")
	}
	if in.Kind != ChannelImageBanner && in.Kind != ChannelImageBadge {
		return "", models.NewValidationError("Unknown image kind")
	}
	if len(in.Content) == 0 {
		return "", models.NewValidationError("No file uploaded")
	}
	if int64(len(in.Content)) > s.maxUploadSizeBytes {
		return "", models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}

	if !isAllowedImageMIME(http.DetectContentType(in.Content)) {
		return "", models.NewChatError(models.ErrInappropriateImage, "Unsupported image type")
	}
	decoded, _, err := image.Decode(bytes.NewReader(in.Content))
	if err != nil {
		return "", models.NewChatError(models.ErrInappropriateImage, "Invalid image file")
	}

	img, err := normalizeChannelImage(decoded, in.Kind)
	if err != nil {
		return "", err
	}

	encoded, err := encodeWebP(img, channelImageWebPQuality)
	if err != nil {
		return "", models.NewInternalError(err)
	}

	hash := channelImageHash(in.ChannelID, encoded)
	rel := filepath.ToSlash(filepath.Join(
		fmt.Sprintf("%d", in.ChannelID),
		fmt.Sprintf("%s-%s.webp", in.Kind, hash[:16]),
	))
	if err := writeBytesToFile(filepath.Join(s.uploadDir, rel), encoded); err != nil {
		return "", models.NewInternalError(err)
	}
	return rel, nil
}

// ResolveForServing maps a stored relative path back to the file on
// disk, refusing anything that escapes the upload directory.
func (s *ChannelImageService) ResolveForServing(rel string) (string, error) {
	clean := filepath.Clean("/" + rel)
	full := filepath.Join(s.uploadDir, clean)
	if !strings.HasPrefix(full, filepath.Clean(s.uploadDir)+string(os.PathSeparator)) {
		return "", models.NewValidationError("Invalid image path")
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", models.NewChatError(models.ErrMessageNotFound, "Image not found")
		}
		return "", models.NewInternalError(err)
	}
	return full, nil
}

// normalizeChannelImage enforces per-kind dimension rules and scales
// oversize images down.
func normalizeChannelImage(src image.Image, kind ChannelImageKind) (image.Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	switch kind {
	case ChannelImageBanner:
		if w < bannerMinWidth || h < bannerMinHeight {
			return nil, models.NewChatError(models.ErrInappropriateImage, "Banner image is too small")
		}
		return resizeToFit(src, bannerMaxWidth, bannerMaxHeight), nil
	case ChannelImageBadge:
		if w != h {
			return nil, models.NewChatError(models.ErrInappropriateImage, "Badge image must be square")
		}
		if w < badgeSize {
			return nil, models.NewChatError(models.ErrInappropriateImage, "Badge image is too small")
		}
		return resizeToFit(src, badgeSize, badgeSize), nil
	default:
		return nil, models.NewValidationError("Unknown image kind")
	}
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func channelImageHash(channelID uint, content []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%d:", channelID)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func writeBytesToFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
