package path

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eric2788/screenrec/internal/modules/config"
	"github.com/eric2788/screenrec/pkg/signeddownload"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("service", "path")

var ErrFileNotFound = fmt.Errorf("file not found")
var ErrInvalidFilePath = fmt.Errorf("invalid file path")
var ErrAccessDenied = fmt.Errorf("access denied")
var ErrInvalidToken = fmt.Errorf("invalid or expired download token")

type Service struct {
	cfg    *config.Config
	signer *signeddownload.Client
}

func NewService(cfg *config.Config) *Service {
	// separate key so download tokens never pass as api bearer tokens
	signer := signeddownload.NewClient([]byte(cfg.JwtSecret + ":download"))
	return &Service{
		cfg:    cfg,
		signer: signer,
	}
}

// ValidatePath resolves path below the recordings directory and rejects anything
// that would escape it.
func (s *Service) ValidatePath(path string) (string, error) {
	baseAbs, err := filepath.Abs(s.cfg.RecordingsDir)
	if err != nil {
		logger.Errorf("invalid base path for %s: %v", s.cfg.RecordingsDir, err)
		return "", ErrInvalidFilePath
	}

	fullPath := filepath.Join(baseAbs, path)
	fullPath = filepath.Clean(fullPath)

	fullPathAbs, err := filepath.Abs(fullPath)
	if err != nil {
		logger.Errorf("invalid path for %s: %v", fullPath, err)
		return "", ErrInvalidFilePath
	}

	if !strings.HasPrefix(fullPathAbs, baseAbs+string(os.PathSeparator)) &&
		fullPathAbs != baseAbs {
		logger.Errorf("path traversal detected: %s", fullPath)
		return "", ErrAccessDenied
	}

	return fullPathAbs, nil
}

func (s *Service) GetRelativePath(fullPath string) (string, error) {
	baseAbs, err := filepath.Abs(s.cfg.RecordingsDir)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(baseAbs, fullPath)
	if err != nil {
		return "", err
	}
	if rel == "." {
		rel = ""
	}
	return rel, nil
}

// GeneratePresignedURL returns a relative download url for fullPath valid for ttl.
func (s *Service) GeneratePresignedURL(fullPath string, ttl time.Duration) (string, error) {
	rel, err := s.GetRelativePath(fullPath)
	if err != nil {
		return "", err
	}
	token, err := s.signer.GenerateDownloadToken(filepath.ToSlash(rel), time.Now().Add(ttl))
	if err != nil {
		return "", err
	}
	return "/files/tempdownload?presigned=" + url.QueryEscape(token), nil
}

// ParsePresignedURLToken returns the relative path a download token grants access to.
func (s *Service) ParsePresignedURLToken(token string) (string, error) {
	claims, err := s.signer.ParseDownloadToken(token)
	if err != nil {
		logger.Debugf("rejected download token: %v", err)
		return "", ErrInvalidToken
	}
	return filepath.FromSlash(claims.FilePath), nil
}
