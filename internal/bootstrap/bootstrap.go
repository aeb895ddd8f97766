// Package bootstrap connects the backends selected by config. It is shared by
// the api-server and notify-worker binaries.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type Deps struct {
	Store     scheduling.Store
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Locker    redisclient.Locker
	Publisher notify.Publisher

	log zerolog.Logger
}

// Open connects everything cfg asks for. The Postgres backend also needs Redis
// for the reconciliation lock; the memory backend is single-process and locks
// locally. AMQP is optional, without it events only reach the event log.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Deps, error) {
	d := &Deps{log: log}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection error: %w", err)
		}
		d.PgPool = pool
		log.Info().Msg("connected to Postgres")

		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, pool, log); err != nil {
				d.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		d.Store = scheduling.NewPgStore(pool)

	case config.BackendMemory:
		mem := scheduling.NewMemoryStore()
		seedDemo(mem, log)
		d.Store = mem
	}

	if cfg.StoreBackend == config.BackendPostgres {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("redis connection error: %w", err)
		}
		d.Redis = rdb
		d.Locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		d.Locker = redisclient.NewLocalLocker()
		log.Warn().Msg("memory backend, using in-process reconciliation lock")
	}

	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("rabbitmq connection error: %w", err)
		}
		d.Publisher = pub
		log.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to RabbitMQ")
	} else {
		d.Publisher = notify.Nop{}
		log.Warn().Msg("AMQP_URL not set, events are not published")
	}

	return d, nil
}

func (d *Deps) Close() {
	if d.Publisher != nil {
		if err := d.Publisher.Close(); err != nil {
			d.log.Error().Err(err).Msg("error closing publisher")
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.log.Error().Err(err).Msg("error closing redis")
		}
	}
	if d.PgPool != nil {
		d.PgPool.Close()
	}
}

// seedDemo fills an empty memory store so the API is usable without Postgres.
func seedDemo(mem *scheduling.MemoryStore, log zerolog.Logger) {
	for i := 0; i < 3; i++ {
		doc := scheduling.Doctor{ID: uuid.New(), Name: "Dr. " + gofakeit.Name()}
		mem.AddDoctor(doc)
		log.Info().Str("doctor_id", doc.ID.String()).Str("name", doc.Name).Msg("demo doctor")
	}
	for i := 0; i < 5; i++ {
		email := gofakeit.Email()
		p := scheduling.Patient{ID: uuid.New(), Name: gofakeit.Name(), Email: &email}
		mem.AddPatient(p)
		log.Info().Str("patient_id", p.ID.String()).Str("name", p.Name).Msg("demo patient")
	}
}
