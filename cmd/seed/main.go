package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"coursepay/internal/config"
	"coursepay/internal/domain/model"
	"coursepay/internal/infra/api/apiv1"
	pg "coursepay/internal/infra/db/postgres"
	red "coursepay/internal/infra/redis"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	userID := flag.String("user", "u42", "id of the demo learner")
	flag.Parse()

	// ---- Config ----
	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect Postgres
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	now := time.Now().UTC()
	courses := pg.NewCourseRepo(pool)
	seed := []model.Course{
		{ID: "driver-bis", Title: "Bus driver certification", PriceIDR: 250_000},
		{ID: "driver-truck", Title: "Truck driver certification", PriceIDR: 300_000},
		{ID: "forklift", Title: "Forklift operator", PriceIDR: 175_000},
	}
	ids := make([]string, 0, len(seed))
	for i := range seed {
		c := seed[i]
		c.Published = true
		c.CreatedAt = now
		if err := courses.Save(ctx, nil, &c); err != nil {
			log.Fatalf("save course %q: %v", c.ID, err)
		}
		ids = append(ids, c.ID)
		fmt.Printf("seeded course: %s (%s, %d IDR)\n", c.ID, c.Title, c.PriceIDR)
	}

	// The catalog is cached; drop stale entries when Redis is reachable.
	if rc, err := red.NewClient(ctx, &cfg.Redis); err == nil {
		cached := pg.NewCourseRepoCacheDecorator(courses, rc, cfg.Redis.TTL)
		if inv, ok := cached.(interface {
			Invalidate(ctx context.Context, ids ...string) error
		}); ok {
			if err := inv.Invalidate(ctx, ids...); err != nil {
				log.Printf("cache invalidation failed: %v", err)
			}
		}
		_ = rc.Close()
	} else {
		log.Printf("redis unavailable, catalog cache not invalidated: %v", err)
	}

	users := pg.NewPostgresUserRepo(pool)
	u := &model.User{ID: *userID, Email: *userID + "@example.com", Name: "Demo learner", CreatedAt: now}
	if err := users.Save(ctx, nil, u); err != nil {
		log.Fatalf("save user: %v", err)
	}
	fmt.Printf("seeded user: %s <%s>\n", u.ID, u.Email)

	auth := apiv1.NewAuthManager(cfg.Auth.JWTSecret, 24*time.Hour)
	userTok, err := auth.Mint(u.ID, apiv1.RoleUser)
	if err != nil {
		log.Fatalf("mint user token: %v", err)
	}
	adminTok, err := auth.Mint("admin", apiv1.RoleAdmin)
	if err != nil {
		log.Fatalf("mint admin token: %v", err)
	}
	fmt.Printf("user token (24h):  %s\n", userTok)
	fmt.Printf("admin token (24h): %s\n", adminTok)
	fmt.Println("Seeding complete.")
}
