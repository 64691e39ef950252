// Package config определяет структуры для конфигурации всего приложения
// и предоставляет функцию для их загрузки из YAML-файла и переменных
// окружения. Используется cleanenv, что позволяет гибко совмещать чтение
// из файла с переопределением через environment variables — удобно и
// локально, и в контейнерах.
//
// MustLoad вызывается один раз в main() каждого бинарника; получившийся
// *Config передается дальше явным параметром конструкторам, которым он
// нужен. Глобального кэширующего синглтона конфигурации в приложении нет.
package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config — корневая структура, объединяющая все конфигурационные
// параметры приложения.
type Config struct {
	Env        string     `yaml:"env" env:"ENV" env-required:"true"`
	Postgres   Postgres   `yaml:"postgres" env-required:"true"`
	Redis      Redis      `yaml:"redis" env-required:"true"`
	Kafka      Kafka      `yaml:"kafka" env-required:"true"`
	HTTPServer HTTPServer `yaml:"http_server" env-required:"true"`
	GSP        GSP        `yaml:"-"`
	Playwright Playwright `yaml:"playwright"`
	Screenshot Screenshot `yaml:"screenshot"`
	Proxy      Proxy      `yaml:"-"`
	Retry      Retry      `yaml:"retry"`
	Worker     Worker     `yaml:"worker"`
}

// Postgres содержит параметры для подключения к базе данных PostgreSQL.
type Postgres struct {
	Username string `yaml:"username" env:"POSTGRES_USER" env-required:"true"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-required:"true"`
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-required:"true"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-required:"true"`
	Database string `yaml:"database" env:"POSTGRES_DB" env-required:"true"`
}

// Redis содержит параметры подключения к серверу Redis. Redis здесь
// играет роль вспомогательного канала очереди (отзыв задач, прогресс)
// и кэша статистики по пакетам — не основного хранилища заказов.
type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-required:"true"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-required:"true"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
}

// Kafka содержит параметры взаимодействия с Apache Kafka — транспортом
// очереди C2. Каждая дорожка (lane: orders/batches/default) — это
// отдельный топик с префиксом Topic.
type Kafka struct {
	BootstrapServers []string `yaml:"bootstrap.servers" env:"KAFKA_BOOTSTRAP_SERVERS" env-required:"true"`
	Topic            string   `yaml:"topic" env-required:"true"`
	Producer         Producer `yaml:"producer" env-required:"true"`
	Consumer         Consumer `yaml:"consumer" env-required:"true"`
}

// Producer определяет настройки Kafka-продюсера.
type Producer struct {
	Acks              int    `yaml:"acks" env-required:"true"`
	EnableIdempotence bool   `yaml:"enable.idempotence"`
	Retries           int    `yaml:"retries"`
	TransactionalId   string `yaml:"transactional.id"`
}

// Consumer определяет настройки Kafka-консьюмера.
type Consumer struct {
	GroupId          string `yaml:"group.id" env-required:"true"`
	AutoOffsetReset  string `yaml:"auto.offset.reset" env-required:"true"`
	EnableAutoCommit bool   `yaml:"enable.auto.commit"`
	SecurityProtocol string `yaml:"security.protocol"`
	IsolationLevel   int8   `yaml:"isolation.level"`
}

// HTTPServer содержит параметры для запуска встроенного HTTP-сервера
// Control API (C7).
type HTTPServer struct {
	Address     string        `yaml:"address" env-required:"true"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// GSP содержит учетные данные портала. Намеренно без yaml-тегов: эти
// значения не должны попадать в YAML-файл, запекаемый в образ контейнера,
// только в переменные окружения процесса.
type GSP struct {
	LoginURL string `env:"GSP_LOGIN_URL" env-required:"true"`
	UserCode string `env:"GSP_USER_CODE" env-required:"true"`
	Password string `env:"GSP_PASSWORD" env-required:"true"`
}

// Playwright содержит настройки запуска браузера.
type Playwright struct {
	Headless bool          `yaml:"headless" env:"PLAYWRIGHT_HEADLESS" env-default:"true"`
	Timeout  time.Duration `yaml:"timeout" env:"PLAYWRIGHT_TIMEOUT" env-default:"60s"`
	SlowMo   time.Duration `yaml:"slow_mo" env:"PLAYWRIGHT_SLOW_MO"`
}

// Screenshot управляет поведением захвата скриншотов при ошибках шага.
type Screenshot struct {
	OnError bool   `yaml:"on_error" env:"SCREENSHOT_ON_ERROR" env-default:"true"`
	Dir     string `yaml:"dir" env:"SCREENSHOT_DIR" env-default:"data/screenshots"`
}

// Proxy содержит опциональные настройки исходящего прокси для браузера.
type Proxy struct {
	HTTPProxy  string `env:"HTTP_PROXY"`
	HTTPSProxy string `env:"HTTPS_PROXY"`
}

// Retry управляет политикой повторов задач заказа.
type Retry struct {
	MaxRetries          int           `yaml:"max_retries" env:"CELERY_MAX_RETRIES" env-default:"3"`
	BaseDelay           time.Duration `yaml:"base_delay" env:"CELERY_RETRY_DELAY" env-default:"30s"`
	UnexpectedErrorWait time.Duration `yaml:"unexpected_error_wait" env-default:"60s"`
}

// Worker управляет размером пула процессов-воркеров и временными лимитами
// задач. Prefetch закреплен равным 1 вне зависимости от Concurrency: один
// воркер исполняет ровно одну задачу одновременно.
type Worker struct {
	Count              int           `yaml:"count" env:"WORKER_COUNT" env-default:"3"`
	Concurrency        int           `yaml:"concurrency" env:"CELERY_CONCURRENCY" env-default:"1"`
	OrderSoftTimeLimit time.Duration `yaml:"order_soft_time_limit" env-default:"540s"`
	OrderHardTimeLimit time.Duration `yaml:"order_hard_time_limit" env-default:"600s"`
	BatchHardTimeLimit time.Duration `yaml:"batch_hard_time_limit" env-default:"3600s"`
}

// MustLoad читает конфигурацию из файла, путь к которому указан в
// переменной окружения CONFIG_PATH, и из переменных окружения.
//
// Функция имеет префикс "Must", так как она вызывает log.Fatal/log.Fatalf
// (завершает процесс через os.Exit) при любой ошибке загрузки или парсинга: дальнейшая работа без валидной
// конфигурации невозможна.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}

	if _, err := os.Stat(configPath); err != nil {
		log.Fatalf("config file does not exist: %s", configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}

	return &cfg
}
