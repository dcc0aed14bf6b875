package repository

import (
	"context"
	"database/sql"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"video-restore/apperrors"
	"video-restore/entities"
)

type GormRepo struct {
	db *gorm.DB
}

// NewRepo opens a gorm session over an existing postgres connection.
func NewRepo(db *sql.DB) (*GormRepo, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger:         logger.Default.LogMode(logger.Warn),
			TranslateError: true,
		},
	)
	if err != nil {
		return nil, err
	}
	return NewGormRepo(gormDB), nil
}

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{
		db: db,
	}
}

func (r *GormRepo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&entities.Job{})
}

func (r *GormRepo) Create(ctx context.Context, job *entities.Job) error {
	err := r.db.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.DuplicateID("job", job.ID)
	}
	return err
}

func (r *GormRepo) Get(ctx context.Context, id string) (*entities.Job, error) {
	job := &entities.Job{}
	err := r.db.WithContext(ctx).First(job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("job", id)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *GormRepo) Update(ctx context.Context, id string, mutate func(job *entities.Job) error) (*entities.Job, error) {
	var updated *entities.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		job := &entities.Job{}
		err := tx.First(job, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NotFound("job", id)
		}
		if err != nil {
			return err
		}

		if err := mutate(job); err != nil {
			return err
		}
		job.ID = id
		if err := tx.Save(job).Error; err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *GormRepo) List(ctx context.Context, filter JobFilter, limit int) ([]*entities.Job, error) {
	var jobs []*entities.Job
	query := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *GormRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&entities.Job{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("job", id)
	}
	return nil
}
