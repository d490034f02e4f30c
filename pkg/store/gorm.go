package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"dhfinance/models"
	"dhfinance/pkg/ledger"
	"dhfinance/pkg/logging"
)

// GormStore is the PostgreSQL backend.
type GormStore struct {
	db  *gorm.DB
	log *slog.Logger
}

// OpenPostgres connects with gorm's postgres driver and, when autoMigrate is
// set, migrates every model.
func OpenPostgres(ctx context.Context, dsn string, autoMigrate bool) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := NewGormStore(db)
	if autoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, log: logging.For(logging.ComponentStore)}
}

// Migrate runs AutoMigrate model by model; roles go first so the users
// foreign key can be created. Failures are logged and returned together.
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	var errs []error
	for _, m := range []struct {
		table string
		model any
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"refresh_tokens", &models.RefreshToken{}},
		{"transactions", &models.Transaction{}},
		{"settings", &models.Setting{}},
		{"proofs", &models.Proof{}},
	} {
		if err := db.AutoMigrate(m.model); err != nil {
			s.log.Warn("migration failed", "table", m.table, logging.FieldError, err)
			errs = append(errs, fmt.Errorf("migrate %s: %w", m.table, err))
		}
	}
	return errors.Join(errs...)
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) EnsureRole(ctx context.Context, name, description string) (models.Role, error) {
	role := models.Role{Name: name}
	err := s.db.WithContext(ctx).
		Where(models.Role{Name: name}).
		Attrs(models.Role{Description: description}).
		FirstOrCreate(&role).Error
	if isUniqueViolation(err) {
		// lost a creation race; the row exists now
		err = s.db.WithContext(ctx).Where("name = ?", name).First(&role).Error
	}
	return role, mapError(err)
}

func (s *GormStore) RoleByID(ctx context.Context, id uint) (models.Role, error) {
	var role models.Role
	err := s.db.WithContext(ctx).First(&role, id).Error
	return role, mapError(err)
}

func (s *GormStore) CreateUser(ctx context.Context, u *models.User) error {
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Create(u).Error)
}

func (s *GormStore) UserByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	return u, mapError(err)
}

func (s *GormStore) UserByID(ctx context.Context, id uint) (models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, id).Error
	return u, mapError(err)
}

func (s *GormStore) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_login", at)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Create(rt).Error)
}

func (s *GormStore) RefreshTokenByHash(ctx context.Context, hash string) (models.RefreshToken, error) {
	var rt models.RefreshToken
	err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&rt).Error
	return rt, mapError(err)
}

func (s *GormStore) RevokeRefreshToken(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Model(&models.RefreshToken{}).Where("id = ?", id).Update("revoked", true)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) Transactions(ctx context.Context, userID uint) ([]ledger.Transaction, error) {
	var rows []models.Transaction
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("number").Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]ledger.Transaction, len(rows))
	for i, r := range rows {
		out[i] = r.Ledger()
	}
	return out, nil
}

func (s *GormStore) AddTransaction(ctx context.Context, userID uint, t ledger.Transaction) (ledger.Transaction, error) {
	var out ledger.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// the owner row lock serializes id assignment per owner
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&owner, userID).Error; err != nil {
			return err
		}
		var max int64
		if err := tx.Model(&models.Transaction{}).
			Where("user_id = ?", userID).
			Select("COALESCE(MAX(number), 0)").
			Scan(&max).Error; err != nil {
			return err
		}
		row := models.TransactionFromLedger(userID, t)
		row.Number = max + 1
		if err := tx.Omit(clause.Associations).Create(&row).Error; err != nil {
			return err
		}
		out = row.Ledger()
		return nil
	})
	return out, mapError(err)
}

func (s *GormStore) DeleteTransaction(ctx context.Context, userID uint, id int64) (ledger.Transaction, error) {
	var row models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND number = ?", userID, id).First(&row).Error; err != nil {
			return err
		}
		return tx.Delete(&row).Error
	})
	if err != nil {
		return ledger.Transaction{}, mapError(err)
	}
	return row.Ledger(), nil
}

func (s *GormStore) ReplaceLedger(ctx context.Context, userID uint, currency string, txs []ledger.Transaction) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&owner, userID).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Transaction{}).Error; err != nil {
			return err
		}
		if len(txs) > 0 {
			rows := make([]models.Transaction, len(txs))
			for i, t := range txs {
				rows[i] = models.TransactionFromLedger(userID, t)
			}
			if err := tx.Omit(clause.Associations).CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}
		return upsertCurrency(tx, userID, currency)
	})
	return mapError(err)
}

func (s *GormStore) Settings(ctx context.Context, userID uint) (models.Setting, error) {
	var st models.Setting
	db := s.db.WithContext(ctx)
	err := db.Where(models.Setting{UserID: userID}).
		Attrs(models.Setting{Currency: ledger.DefaultCurrency}).
		Omit(clause.Associations).
		FirstOrCreate(&st).Error
	if isUniqueViolation(err) {
		err = db.Where("user_id = ?", userID).First(&st).Error
	}
	return st, mapError(err)
}

func (s *GormStore) UpdateCurrency(ctx context.Context, userID uint, code string) (models.Setting, error) {
	db := s.db.WithContext(ctx)
	if err := upsertCurrency(db, userID, code); err != nil {
		return models.Setting{}, mapError(err)
	}
	var st models.Setting
	err := db.Where("user_id = ?", userID).First(&st).Error
	return st, mapError(err)
}

func upsertCurrency(db *gorm.DB, userID uint, code string) error {
	st := models.Setting{UserID: userID, Currency: code}
	return db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"currency", "updated_at"}),
	}).Create(&st).Error
}

func (s *GormStore) CreateProof(ctx context.Context, p *models.Proof) error {
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error)
}

func (s *GormStore) UpdateProof(ctx context.Context, p *models.Proof) error {
	return mapError(s.db.WithContext(ctx).Omit(clause.Associations).Save(p).Error)
}

func (s *GormStore) Proofs(ctx context.Context, userID uint) ([]models.Proof, error) {
	var out []models.Proof
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id desc").Limit(200).Find(&out).Error
	return out, mapError(err)
}

func (s *GormStore) ProofByFileName(ctx context.Context, userID uint, fileName string) (models.Proof, error) {
	var p models.Proof
	err := s.db.WithContext(ctx).Where("user_id = ? AND file_name = ?", userID, fileName).First(&p).Error
	return p, mapError(err)
}

func (s *GormStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.User{}).Count(&c.Users).Error; err != nil {
		return c, mapError(err)
	}
	if err := db.Model(&models.Transaction{}).Count(&c.Transactions).Error; err != nil {
		return c, mapError(err)
	}
	return c, nil
}

// mapError translates gorm and postgres errors into the package sentinels.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
