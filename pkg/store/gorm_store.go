package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"securechat/pkg/domain"
)

const (
	migrateLockID int64 = 51735173
	appendLockID  int64 = 51735174
)

// appendMessageSQL stamps the row in the database: never earlier than the
// newest stored message, so ids and timestamps agree across restarts and
// across instances sharing the table.
const appendMessageSQL = `
INSERT INTO message_models (sender, receiver, content, sent_at)
SELECT ?, ?, ?, GREATEST(
	clock_timestamp(),
	COALESCE((SELECT MAX(sent_at) FROM message_models), '-infinity'::timestamptz) + interval '1 microsecond'
)
RETURNING id, sender, receiver, content, sent_at`

// GormStore implements MessageStore and UserStore on Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&MessageModel{}, &UserModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

// AppendMessage records a message. Appends are serialized by a transaction
// scoped advisory lock, under which the sequence id and the database clock
// are read together.
func (s *GormStore) AppendMessage(ctx context.Context, sender, receiver, content string) (domain.Message, error) {
	var model MessageModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", appendLockID).Error; err != nil {
			return fmt.Errorf("acquire append lock: %w", err)
		}
		return appendQuery(tx, sender, receiver, content).Scan(&model).Error
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return messageFromModel(model), nil
}

func appendQuery(tx *gorm.DB, sender, receiver, content string) *gorm.DB {
	return tx.Raw(appendMessageSQL, sender, receiver, content)
}

// History returns the thread between a and b in either direction.
func (s *GormStore) History(ctx context.Context, a, b string) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.WithContext(ctx).
		Where("(sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)", a, b, b, a).
		Order("sent_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs, nil
}

type conversationRow struct {
	Counterpart  string
	LastActivity time.Time
}

// Conversations aggregates user's threads in one query.
func (s *GormStore) Conversations(ctx context.Context, user string) ([]domain.ConversationSummary, error) {
	var rows []conversationRow
	if err := conversationsQuery(s.db.WithContext(ctx), user).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("conversations: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.ConversationSummary{
			Counterpart:  row.Counterpart,
			LastActivity: row.LastActivity.UTC(),
		})
	}
	return out, nil
}

func conversationsQuery(tx *gorm.DB, user string) *gorm.DB {
	return tx.Raw(`
		SELECT CASE WHEN sender = @user THEN receiver ELSE sender END AS counterpart,
		       MAX(sent_at) AS last_activity
		FROM message_models
		WHERE sender = @user OR receiver = @user
		GROUP BY 1
		ORDER BY last_activity DESC, counterpart ASC
	`, sql.Named("user", user))
}

// CreateUser inserts a new account.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model, err := userToModel(u)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if taken, err := exists(tx, "username = ?", u.Username); err != nil {
			return err
		} else if taken {
			return ErrUsernameTaken
		}
		if taken, err := exists(tx, "LOWER(email) = LOWER(?)", u.Email); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}
		return tx.Create(&model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}

// GetUser loads an account by username.
func (s *GormStore) GetUser(ctx context.Context, username string) (domain.User, error) {
	var model UserModel
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, err
	}
	return userFromModel(model), nil
}

// UpdateUser overwrites mutable fields of an existing account.
func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) error {
	contacts, err := json.Marshal(nonNil(u.Contacts))
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if taken, err := exists(tx, "LOWER(email) = LOWER(?) AND username <> ?", u.Email, u.Username); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}
		res := tx.Model(&UserModel{}).Where("username = ?", u.Username).Updates(map[string]any{
			"name":          u.Name,
			"email":         u.Email,
			"password_hash": u.PasswordHash,
			"contacts":      datatypes.JSON(contacts),
			"updated_at":    time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrEmailTaken
	}
	return err
}

// DeleteUser removes an account. Messages are kept.
func (s *GormStore) DeleteUser(ctx context.Context, username string) error {
	res := s.db.WithContext(ctx).Where("username = ?", username).Delete(&UserModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func exists(tx *gorm.DB, query string, args ...any) (bool, error) {
	var count int64
	if err := tx.Model(&UserModel{}).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Receiver:  m.Receiver,
		Content:   m.Content,
		Timestamp: m.SentAt.UTC(),
	}
}

func userToModel(u domain.User) (UserModel, error) {
	contacts, err := json.Marshal(nonNil(u.Contacts))
	if err != nil {
		return UserModel{}, err
	}
	now := time.Now().UTC()
	return UserModel{
		Username:     strings.TrimSpace(u.Username),
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		PublicKey:    u.PublicKey,
		PrivateKey:   u.PrivateKey,
		Contacts:     contacts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func userFromModel(m UserModel) domain.User {
	var contacts []string
	if len(m.Contacts) > 0 {
		_ = json.Unmarshal(m.Contacts, &contacts)
	}
	return domain.User{
		Username:     m.Username,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		PublicKey:    m.PublicKey,
		PrivateKey:   m.PrivateKey,
		Contacts:     nonNil(contacts),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
