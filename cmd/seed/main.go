package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type seedConfig struct {
	PostgresDSN string `envconfig:"POSTGRES_DSN" required:"true"`
	Doctors     int    `envconfig:"SEED_DOCTORS" default:"40"`
	Patients    int    `envconfig:"SEED_PATIENTS" default:"2000"`
	Days        int    `envconfig:"SEED_AVAILABILITY_DAYS" default:"14"`
}

var departments = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	log := logging.New("dev", "info", "seed")
	log.Info().Msg("seed starting")

	_ = godotenv.Load()
	var cfg seedConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	ctx := context.Background()

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connCtx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	deptIDs, err := seedDepartments(ctx, pool, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed departments")
	}
	doctorIDs, err := seedDoctors(ctx, pool, deptIDs, cfg.Doctors, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, cfg.Patients, log); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}
	if err := seedAvailability(ctx, pool, doctorIDs, cfg.Days, log); err != nil {
		log.Fatal().Err(err).Msg("seed availability")
	}

	log.Info().Msg("seed complete")
}

func seedDepartments(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(departments))

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, name := range departments {
			var id uuid.UUID
			err := tx.QueryRow(ctx, `
				INSERT INTO departments (id, name, description, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
				ON CONFLICT (name) DO UPDATE SET updated_at = now()
				RETURNING id
			`, uuid.New(), name, gofakeit.Sentence(8)).Scan(&id)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int("count", len(ids)).Msg("departments seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, deptIDs []uuid.UUID, count int, log zerolog.Logger) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding doctors")

	ids := make([]uuid.UUID, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for i := 0; i < count; i++ {
			id := uuid.New()
			dept := deptIDs[gofakeit.Number(0, len(deptIDs)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, department_id, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, "Dr. "+gofakeit.Name(), dept)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Msg("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int, log zerolog.Logger) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		rows := make([][]any, 0, end-offset)
		for i := offset; i < end; i++ {
			rows = append(rows, []any{uuid.New(), gofakeit.Name(), gofakeit.Email(), time.Now(), time.Now()})
		}

		_, err := pool.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email", "created_at", "updated_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded")
	}

	return nil
}

// seedAvailability publishes a random working pattern per doctor through the
// reconciler, the same path the API uses.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, days int, log zerolog.Logger) error {
	store := scheduling.NewPgStore(pool)
	reconciler := scheduling.NewReconciler(store, redisclient.NewLocalLocker(), 5*time.Second, log)

	start := scheduling.DateOf(time.Now()).AddDays(1)
	created := 0
	for _, doctorID := range doctorIDs {
		for d := 0; d < days; d++ {
			date := start.AddDays(d)
			if wd := date.Time().Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}

			var slots []string
			for h := 8; h < 18; h++ {
				if gofakeit.Float64() < 0.6 {
					slots = append(slots, scheduling.NewTimeOfDay(h, 0).String())
				}
			}

			res, err := reconciler.Reconcile(ctx, doctorID, date, slots)
			if err != nil {
				return err
			}
			created += len(res.Created)
		}
	}

	log.Info().Int("slots", created).Int("doctors", len(doctorIDs)).Msg("availability seeded")
	return nil
}
