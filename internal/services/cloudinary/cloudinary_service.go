package cloudinary

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/config"
	"github.com/rajivgeraev/skillmates-api/internal/models"
	"github.com/rajivgeraev/skillmates-api/internal/utils"
)

// avatarTransformation - кадрирование аватара по лицу
const avatarTransformation = "c_fill,g_face,h_256,w_256"

// CloudinaryService выдаёт подписанные параметры прямой загрузки аватаров
type CloudinaryService struct {
	cfg config.CloudinaryConfig
	cld *cloudinary.Cloudinary
	now func() time.Time
}

// NewCloudinaryService создает новый экземпляр CloudinaryService
func NewCloudinaryService(cfg *config.Config) (*CloudinaryService, error) {
	cc := cfg.CloudinaryConfig
	cld, err := cloudinary.NewFromParams(cc.CloudName, cc.APIKey, cc.APISecret)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации Cloudinary: %w", err)
	}
	return &CloudinaryService{cfg: cc, cld: cld, now: time.Now}, nil
}

// AvatarParams - всё, что нужно браузеру для загрузки аватара напрямую в Cloudinary
type AvatarParams struct {
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	APIKey    string `json:"api_key"`
	CloudName string `json:"cloud_name"`
	Folder    string `json:"folder"`
	PublicID  string `json:"public_id"`
	Overwrite bool   `json:"overwrite"`
	AvatarURL string `json:"avatar_url"`
}

// SignAvatarUpload подписывает загрузку аватара. Каждый пользователь пишет
// только в свой public_id, новая загрузка заменяет старую.
func (s *CloudinaryService) SignAvatarUpload(caller models.Caller) (AvatarParams, error) {
	if caller.Anonymous() {
		return AvatarParams{}, apperr.Unauthorized("Пользователь не авторизован")
	}

	timestamp := strconv.FormatInt(s.now().Unix(), 10)
	params := url.Values{}
	params.Set("timestamp", timestamp)
	params.Set("folder", s.cfg.UploadFolder)
	params.Set("public_id", caller.UserID)
	params.Set("overwrite", "true")

	signature, err := api.SignParameters(params, s.cfg.APISecret)
	if err != nil {
		return AvatarParams{}, fmt.Errorf("ошибка подписи параметров загрузки: %w", err)
	}

	avatarURL, err := s.AvatarURL(caller.UserID)
	if err != nil {
		return AvatarParams{}, err
	}

	return AvatarParams{
		Timestamp: timestamp,
		Signature: signature,
		APIKey:    s.cfg.APIKey,
		CloudName: s.cfg.CloudName,
		Folder:    s.cfg.UploadFolder,
		PublicID:  caller.UserID,
		Overwrite: true,
		AvatarURL: avatarURL,
	}, nil
}

// AvatarURL возвращает адрес аватара пользователя после загрузки
func (s *CloudinaryService) AvatarURL(userID string) (string, error) {
	img, err := s.cld.Image(s.cfg.UploadFolder + "/" + userID)
	if err != nil {
		return "", fmt.Errorf("ошибка построения адреса аватара: %w", err)
	}
	img.Transformation = avatarTransformation
	return img.String()
}

// GenerateUploadParams создаёт параметры для загрузки аватара
func (s *CloudinaryService) GenerateUploadParams(c fiber.Ctx) error {
	params, err := s.SignAvatarUpload(utils.CallerFrom(c))
	if err != nil {
		return utils.Fail(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "params": params})
}
