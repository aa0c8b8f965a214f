package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-patient-flow/internal/db"
	"github.com/hackgods/clinic-patient-flow/internal/queue"
	"github.com/hackgods/clinic-patient-flow/internal/settings"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 0)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	clinics := envInt("SEED_CLINICS", 5)
	patientsPerQueue := envInt("SEED_PATIENTS_PER_QUEUE", 8)

	src := settings.NewPgSource(pool)
	svc := queue.NewService(queue.NewPgRepository(pool), queue.NewLocalLocker(), settings.NewStore(src))

	if err := seedGlobalSettings(context.Background(), src); err != nil {
		log.Fatalf("seed settings: %v", err)
	}
	for i := 0; i < clinics; i++ {
		if err := seedClinic(context.Background(), pool, src, svc, patientsPerQueue); err != nil {
			log.Fatalf("seed clinic: %v", err)
		}
	}

	log.Println("seed complete")
}

func seedGlobalSettings(ctx context.Context, src *settings.PgSource) error {
	defaults := map[string]string{
		settings.KeyAllowWalkIns:   strconv.FormatBool(settings.DefaultAllowWalkIns),
		settings.KeyPriorityLevels: settings.FormatList(settings.DefaultPriorityLevels()),
		settings.KeyAutoCallNext:   strconv.FormatBool(settings.DefaultAutoCallNext),
		settings.KeyMaxWaitMinutes: strconv.Itoa(settings.DefaultMaxWaitMinutes),
	}
	for k, v := range defaults {
		if err := src.Put(ctx, uuid.Nil, k, v); err != nil {
			return err
		}
	}
	log.Println("global settings seeded")
	return nil
}

func seedClinic(ctx context.Context, pool *pgxpool.Pool, src *settings.PgSource, svc *queue.Service, patients int) error {
	clinicID := uuid.New()
	clinicName := gofakeit.Company() + " Clinic"
	log.Printf("seeding clinic %q clinic_id=%s", clinicName, clinicID)

	// clinic level overrides
	if gofakeit.Bool() {
		if err := src.Put(ctx, clinicID, settings.KeyAutoCallNext, "true"); err != nil {
			return err
		}
		if err := src.Put(ctx, clinicID, settings.KeyMaxWaitMinutes, strconv.Itoa(gofakeit.Number(20, 60))); err != nil {
			return err
		}
	}
	if gofakeit.Number(0, 4) == 0 {
		if err := src.Put(ctx, clinicID, settings.KeyAllowWalkIns, "false"); err != nil {
			return err
		}
	}

	stations := []struct {
		name string
		kind queue.QueueType
	}{
		{"Reception", queue.TypeGeneral},
		{"Walk-in", queue.TypeWalkIn},
		{"Lab", queue.TypeAppointment},
		{"Triage", queue.TypeEmergency},
	}

	for _, st := range stations {
		q, err := svc.CreateQueue(ctx, queue.NewQueueParams{
			ClinicID:        clinicID,
			Name:            fmt.Sprintf("%s - %s", clinicName, st.name),
			Description:     fmt.Sprintf("%s station, lead %s", st.name, gofakeit.Name()),
			Type:            st.kind,
			MaxCapacity:     gofakeit.Number(15, 40),
			AverageWaitTime: gofakeit.Number(0, 20),
			PriorityLevel:   gofakeit.Number(0, 3),
		})
		if err != nil {
			return err
		}

		admitted := 0
		for i := 0; i < patients; i++ {
			md := map[string]any{
				"name":   gofakeit.Name(),
				"phone":  gofakeit.Phone(),
				"reason": gofakeit.RandomString([]string{"checkup", "follow-up", "vaccination", "lab work", "consultation"}),
			}
			_, err := svc.AddEntry(ctx, q.ID, uuid.New(), gofakeit.Number(1, 5), md)
			if err != nil {
				log.Printf("skip admission queue=%s: %v", q.Name, err)
				break
			}
			admitted++
		}
		log.Printf("queue seeded name=%q admitted=%d", q.Name, admitted)
	}

	var total int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM queue_entries`).Scan(&total); err == nil {
		log.Printf("entries in database: %d", total)
	}
	return nil
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
