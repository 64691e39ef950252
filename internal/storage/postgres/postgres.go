// Package postgres предоставляет реализацию хранилища (C1) поверх
// PostgreSQL. Пакет использует `sqlx` для удобной работы с SQL и
// `squirrel` для декларативного построения запросов — тот же стек,
// которым в этом репозитории уже собирался предыдущий сервис обработки
// заказов, здесь обобщенный на модель Batch/Order/OrderProduct/OrderLog.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL.

	"github.com/natura-rpa/gsp-dispatch/internal/config"
)

// Storage инкапсулирует подключение к базе данных и предоставляет методы
// для работы с данными пакетов, заказов, товаров и журнала шагов.
type Storage struct {
	db  *sqlx.DB
	log *slog.Logger
	sq  squirrel.StatementBuilderType
}

// New создает и возвращает новый экземпляр Storage, устанавливая
// соединение с базой данных PostgreSQL.
func New(cfg config.Postgres, log *slog.Logger) (*Storage, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("can't connect to database: %v", err)
	}

	return &Storage{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}, nil
}

// Close закрывает пул соединений. Вызывается при остановке процесса;
// поскольку в Go каждый воркер — это собственный ОС-процесс с момента
// запуска (в отличие от форков Celery-воркеров в исходной системе),
// отдельного "dispose после fork" шага не требуется — New вызывается
// один раз на процесс и этого достаточно.
func (s *Storage) Close() error {
	return s.db.Close()
}
