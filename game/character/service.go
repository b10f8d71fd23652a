package character

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	dbadapter "github.com/nisekogame/backend/db"
	"github.com/nisekogame/backend/game/score"
	mw "github.com/nisekogame/backend/middleware"
	"github.com/nisekogame/backend/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxNameLen = 64

var (
	ErrNotFound         = errors.New("character not found")
	ErrDuplicateName    = errors.New("character name already taken")
	ErrInvalidCharacter = errors.New("invalid character")
)

// Service is the character store.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a character Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create inserts a new character in a single statement. attributes must be a
// JSON object; it is stored as-is and never inspected further.
func (svc *Service) Create(ctx context.Context, name string, attributes json.RawMessage) (*model.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return nil, fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidCharacter, maxNameLen)
	}
	attrs, err := normalizeAttributes(attributes)
	if err != nil {
		return nil, err
	}

	char := &model.Character{Name: name, Attributes: attrs}
	if err := svc.db.WithContext(ctx).Create(char).Error; err != nil {
		if dbadapter.IsUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("create character %q: %w", name, dbadapter.Unavailable(err))
	}
	svc.logger.Debug("character created",
		zap.String("trace_id", mw.TraceIDFromContext(ctx)),
		zap.Int64("char_id", char.ID),
		zap.String("name", char.Name))
	return char, nil
}

// Exists reports whether a character with name exists.
func (svc *Service) Exists(ctx context.Context, name string) (bool, error) {
	var ids []int64
	err := svc.db.WithContext(ctx).Model(&model.Character{}).
		Where("name = ?", name).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, fmt.Errorf("check character %q: %w", name, dbadapter.Unavailable(err))
	}
	return len(ids) > 0, nil
}

// GetByName fetches the character called name.
func (svc *Service) GetByName(ctx context.Context, name string) (*model.Character, error) {
	var char model.Character
	err := svc.db.WithContext(ctx).Where("name = ?", name).First(&char).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get character %q: %w", name, dbadapter.Unavailable(err))
	}
	return &char, nil
}

// GetByID fetches the character with the given id.
func (svc *Service) GetByID(ctx context.Context, id int64) (*model.Character, error) {
	var char model.Character
	err := svc.db.WithContext(ctx).First(&char, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get character %d: %w", id, dbadapter.Unavailable(err))
	}
	return &char, nil
}

// ListAll returns every character in creation order.
func (svc *Service) ListAll(ctx context.Context) ([]model.Character, error) {
	var chars []model.Character
	if err := svc.db.WithContext(ctx).Order("id ASC").Find(&chars).Error; err != nil {
		return nil, fmt.Errorf("list characters: %w", dbadapter.Unavailable(err))
	}
	return chars, nil
}

// SubmitSoloScore raises the character's solo best to s if s is strictly
// higher. An unknown name is reported before an invalid score. The
// comparison and the write happen in one UPDATE.
func (svc *Service) SubmitSoloScore(ctx context.Context, name string, s int64) (*model.Character, error) {
	if _, err := svc.GetByName(ctx, name); err != nil {
		return nil, err
	}
	if err := score.Validate(s); err != nil {
		return nil, err
	}
	res := svc.db.WithContext(ctx).Model(&model.Character{}).
		Where("name = ? AND highest_score < ?", name, s).
		Update("highest_score", s)
	if res.Error != nil {
		return nil, fmt.Errorf("solo score for %q: %w", name, dbadapter.Unavailable(res.Error))
	}
	char, err := svc.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return char, score.ErrScoreNotHigher
	}
	return char, nil
}

// DeleteAll removes every pair record and every character. It is meant for
// maintenance tooling only and is not reachable over HTTP.
func (svc *Service) DeleteAll(ctx context.Context) (int64, error) {
	var deleted int64
	err := svc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
			Delete(&model.CooperativePair{}).Error; err != nil {
			return err
		}
		res := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&model.Character{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete all characters: %w", dbadapter.Unavailable(err))
	}
	svc.logger.Info("all characters deleted",
		zap.String("trace_id", mw.TraceIDFromContext(ctx)),
		zap.Int64("count", deleted))
	return deleted, nil
}

func normalizeAttributes(raw json.RawMessage) (datatypes.JSON, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return datatypes.JSON("{}"), nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: attributes must be a JSON object", ErrInvalidCharacter)
	}
	return datatypes.JSON(trimmed), nil
}
