package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/config"
	"github.com/hackgods/hospital-scheduling/internal/db"
	"github.com/hackgods/hospital-scheduling/internal/logging"
)

var departments = []string{
	"cardiology",
	"dermatology",
	"general-practice",
	"orthopedics",
	"endocrinology",
	"neurology",
	"pediatrics",
	"psychiatry",
	"ophthalmology",
	"ent",
}

var hospitals = []string{"hosp-north", "hosp-south", "hosp-central"}

// Weekly templates handed out at random. Mixed spellings are deliberate:
// directory data arrives in whatever form the source system used.
var templates = []struct {
	days       []string
	start, end string
	slot, max  int
}{
	{[]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}, "09:00", "17:00", 30, 16},
	{[]string{"mon", "wed", "fri"}, "08:00", "14:00", 20, 18},
	{[]string{"TUE", "THU", "SAT"}, "10:00:00", "18:00:00", 45, 0},
	{[]string{"monday", "tuesday", "wednesday", "thursday"}, "", "", 30, 0},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := logging.New("prod", "info")
		l.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	ctx = logger.WithContext(ctx)

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	perTeam := 4
	if v, err := strconv.Atoi(os.Getenv("SEED_PER_DEPARTMENT")); err == nil && v > 0 {
		perTeam = v
	}

	if err := seedPractitioners(ctx, pool, perTeam); err != nil {
		logger.Fatal().Err(err).Msg("seed practitioners")
	}

	logger.Info().Msg("seed complete")
}

func seedPractitioners(ctx context.Context, pool *pgxpool.Pool, perTeam int) error {
	log := zerolog.Ctx(ctx)
	log.Info().Int("per_department", perTeam).Msg("seeding practitioners")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	n := 0
	for _, hosp := range hospitals {
		for _, dept := range departments {
			for i := 0; i < perTeam; i++ {
				tpl := templates[gofakeit.Number(0, len(templates)-1)]
				id := "PRC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])

				_, err := tx.Exec(ctx, `
					INSERT INTO practitioners (id, name, department_id, hospital_id, contact, active,
					                           working_days, start_time, end_time, slot_minutes, max_per_day,
					                           created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, now(), now())
					ON CONFLICT (id) DO NOTHING
				`, id, "Dr. "+gofakeit.Name(), dept, hosp, gofakeit.Email(), gofakeit.Number(0, 9) > 0,
					tpl.days, tpl.start, tpl.end, tpl.slot, tpl.max)
				if err != nil {
					return err
				}
				n++
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("count", n).Msg("practitioners seeded")
	return nil
}
