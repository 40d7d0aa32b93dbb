package repository

import (
	"context"
	"errors"
	"fmt"

	"soundscape/model"

	"gorm.io/gorm"
)

// SoundscapeRepository 混音数据访问接口
type SoundscapeRepository interface {
	Create(ctx context.Context, s *model.Soundscape) error
	GetByID(ctx context.Context, id int64) (*model.Soundscape, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Soundscape, error)
	// SaveTracks replaces the sound list of a soundscape in one transaction.
	SaveTracks(ctx context.Context, id int64, name string, states []model.TrackState) error
	Delete(ctx context.Context, id int64) error
}

// gormSoundscapeRepository GORM 实现
type gormSoundscapeRepository struct {
	db *gorm.DB
}

// NewGormSoundscapeRepository 创建 GORM 混音仓库
func NewGormSoundscapeRepository(db *gorm.DB) SoundscapeRepository {
	return &gormSoundscapeRepository{db: db}
}

func orderedSounds(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Create 创建混音及其音轨
func (r *gormSoundscapeRepository) Create(ctx context.Context, s *model.Soundscape) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("failed to create soundscape: %w", err)
	}
	return nil
}

// GetByID 根据ID获取混音，音轨按声道顺序排列
func (r *gormSoundscapeRepository) GetByID(ctx context.Context, id int64) (*model.Soundscape, error) {
	var s model.Soundscape
	err := r.db.WithContext(ctx).Preload("Sounds", orderedSounds).First(&s, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get soundscape %d: %w", id, err)
	}
	return &s, nil
}

// ListByUser 获取用户的全部混音
func (r *gormSoundscapeRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Soundscape, error) {
	var list []*model.Soundscape
	err := r.db.WithContext(ctx).
		Preload("Sounds", orderedSounds).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list soundscapes for user %d: %w", userID, err)
	}
	return list, nil
}

// SaveTracks 替换混音的音轨列表
func (r *gormSoundscapeRepository) SaveTracks(ctx context.Context, id int64, name string, states []model.TrackState) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s := model.Soundscape{ID: id}
		if err := tx.Model(&s).Updates(map[string]interface{}{"name": name}).Error; err != nil {
			return fmt.Errorf("failed to update soundscape %d: %w", id, err)
		}
		if err := tx.Where("soundscape_id = ?", id).Delete(&model.Sound{}).Error; err != nil {
			return fmt.Errorf("failed to clear sounds of soundscape %d: %w", id, err)
		}
		s.SetTrackStates(states)
		if len(s.Sounds) == 0 {
			return nil
		}
		if err := tx.Create(&s.Sounds).Error; err != nil {
			return fmt.Errorf("failed to save sounds of soundscape %d: %w", id, err)
		}
		return nil
	})
}

// Delete 删除混音及其音轨
func (r *gormSoundscapeRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("soundscape_id = ?", id).Delete(&model.Sound{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Soundscape{}, id).Error
	})
}
