// Package repository реализует хранилище данных на основе PostgreSQL
// для пользователей, лицензий и платежей. Все доменные инварианты
// (уникальность лицензионного ключа, уникальность пары (user_uid, payment_id),
// однократная активация лицензии) подкреплены ограничениями и условными
// обновлениями на уровне базы, а не только прикладной логикой.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// ErrDuplicateKey возвращается при нарушении уникального ограничения,
// например при коллизии сгенерированного лицензионного ключа.
var ErrDuplicateKey = errors.New("unique constraint violation")

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'licenses'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table licenses missing or query error: %w", err)
	}
	return nil
}

// wrapUnique подменяет нарушение уникального ограничения на ErrDuplicateKey,
// чтобы вызывающая сторона могла отличить коллизию от прочих ошибок базы.
func wrapUnique(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrDuplicateKey)
	}
	return fmt.Errorf("%s: %w", op, err)
}
