// Command seed loads sample products into the configured backend and can upload
// their images to the configured image store.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fjod/go_storefront/internal/backend"
	"github.com/fjod/go_storefront/internal/backend/gcs"
	"github.com/fjod/go_storefront/internal/backend/sqlbackend"
	"github.com/fjod/go_storefront/internal/backend/supabase"
	"github.com/fjod/go_storefront/internal/config"
	"github.com/fjod/go_storefront/internal/domain"
	"github.com/fjod/go_storefront/internal/logging"
	"github.com/fjod/go_storefront/internal/repository/catalog"
	"github.com/fjod/go_storefront/internal/service"
)

//go:embed products.json
var defaultProducts []byte

func main() {
	file := flag.String("file", "", "JSON file with products (defaults to the built-in sample set)")
	imageDir := flag.String("images", "", "directory with image files to upload before seeding")
	dryRun := flag.Bool("dry-run", false, "print what would be created without writing")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("failed to set up logging: %v", err)
	}

	products, err := readProducts(*file)
	if err != nil {
		log.WithError(err).Fatal("failed to read products")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, images, closeAll, err := open(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open backend")
	}
	defer closeAll()

	n, err := seed(ctx, service.NewCatalogService(repo, nil, images, log), images, products, *imageDir, *dryRun, log)
	if err != nil {
		log.WithError(err).Fatal("seed failed")
	}
	log.WithField("created", n).Info("seed complete")
}

func readProducts(file string) ([]domain.Product, error) {
	raw := defaultProducts
	if file != "" {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	var products []domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return products, nil
}

// Seeder is the catalog surface used by seed.
type Seeder interface {
	ListSlugs(ctx context.Context) ([]string, error)
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
}

// seed creates every product whose slug is not taken yet. Image refs naming files
// in imageDir are uploaded under products/<slug>/ first and rewritten to the
// stored object path.
func seed(ctx context.Context, catalogSvc Seeder, images backend.ObjectStorage, products []domain.Product, imageDir string, dryRun bool, log logrus.FieldLogger) (int, error) {
	slugs, err := catalogSvc.ListSlugs(ctx)
	if err != nil {
		return 0, err
	}
	existing := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		existing[s] = true
	}

	created := 0
	for _, p := range products {
		if p.Slug == "" {
			p.Slug = catalog.Slugify(p.Name)
		}
		plog := log.WithField("slug", p.Slug)
		if existing[p.Slug] {
			plog.Info("product exists, skipping")
			continue
		}

		if imageDir != "" && images != nil {
			if p, err = uploadImages(ctx, images, p, imageDir, dryRun, plog); err != nil {
				return created, err
			}
		}

		if dryRun {
			plog.WithField("price", p.Price.StringFixed(2)).Info("would create product")
			continue
		}
		if _, err := catalogSvc.CreateProduct(ctx, p); err != nil {
			return created, fmt.Errorf("create %s: %w", p.Slug, err)
		}
		existing[p.Slug] = true
		created++
		plog.Info("product created")
	}
	return created, nil
}

func uploadImages(ctx context.Context, images backend.ObjectStorage, p domain.Product, dir string, dryRun bool, log logrus.FieldLogger) (domain.Product, error) {
	upload := func(ref string) (string, error) {
		if ref == "" || strings.Contains(ref, "://") {
			return ref, nil
		}
		local := filepath.Join(dir, filepath.Base(ref))
		f, err := os.Open(local)
		if os.IsNotExist(err) {
			log.WithField("file", local).Warn("image file missing, keeping reference")
			return ref, nil
		}
		if err != nil {
			return "", err
		}
		defer f.Close()

		object := path.Join("products", p.Slug, filepath.Base(ref))
		if dryRun {
			log.WithField("object", object).Info("would upload image")
			return object, nil
		}
		contentType := mime.TypeByExtension(filepath.Ext(ref))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if err := images.Upload(ctx, object, f, contentType); err != nil {
			return "", fmt.Errorf("upload %s: %w", object, err)
		}
		log.WithField("object", object).Debug("image uploaded")
		return object, nil
	}

	var err error
	if p.ImageURL, err = upload(p.ImageURL); err != nil {
		return p, err
	}
	refs := make([]string, len(p.Images))
	for i, ref := range p.Images {
		if refs[i], err = upload(ref); err != nil {
			return p, err
		}
	}
	p.Images = refs
	return p, nil
}

func open(ctx context.Context, cfg *config.Config) (catalog.Repository, backend.ObjectStorage, func(), error) {
	var (
		repo    catalog.Repository
		images  backend.ObjectStorage
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var sb *supabase.Client
	if cfg.Backend == config.BackendSupabase || cfg.ImageStore == config.ImageStoreSupabase {
		c, err := supabase.New(supabase.Config{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.AnonKey})
		if err != nil {
			return nil, nil, closeAll, err
		}
		sb = c
	}

	switch cfg.Backend {
	case config.BackendSupabase:
		repo = catalog.NewBackendRepository(sb)
	case config.BackendSQLite, config.BackendPostgres:
		var (
			db  *sqlbackend.DB
			err error
		)
		if cfg.Backend == config.BackendSQLite {
			db, err = sqlbackend.OpenSQLite(cfg.SQLite.Path)
		} else {
			db, err = sqlbackend.OpenPostgres(sqlbackend.Credentials{
				Host:     cfg.Postgres.Host,
				Port:     cfg.Postgres.Port,
				User:     cfg.Postgres.User,
				Password: cfg.Postgres.Password,
				DBName:   cfg.Postgres.DBName,
				SSLMode:  cfg.Postgres.SSLMode,
			})
		}
		if err != nil {
			return nil, nil, closeAll, err
		}
		closers = append(closers, func() { _ = db.Close() })
		if err := db.RunMigrations(); err != nil {
			return nil, nil, closeAll, err
		}
		repo = catalog.NewSQLRepository(db)
	default:
		return nil, nil, closeAll, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	switch cfg.ImageStore {
	case config.ImageStoreSupabase:
		images = sb.Bucket(cfg.Supabase.ImageBucket)
	case config.ImageStoreGCS:
		b, err := gcs.Open(ctx, gcs.Config{
			Bucket:          cfg.GCS.Bucket,
			CredentialsFile: cfg.GCS.CredentialsFile,
			PublicBaseURL:   cfg.GCS.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, closeAll, err
		}
		closers = append(closers, func() { _ = b.Close() })
		images = b
	}
	return repo, images, closeAll, nil
}
