package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"docRender/internal/auth"
	"docRender/internal/config"
	"docRender/internal/database"
	"docRender/internal/raster"
	"docRender/internal/reference"
	"docRender/internal/source"
)

const usage = `usage: admin <command> [flags]

commands:
  hash-password      生成 PUBLISHER_PASSWORD_HASH 所需的 bcrypt 哈希（从 stdin 或 --password 读取）
  create-publisher   创建发布者账号并打印一次性初始密码（首次登录需强制改密）
  probe              解析文档引用、抓取文档并打印页数
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "hash-password":
		err = hashPassword(os.Args[2:])
	case "create-publisher":
		err = createPublisher(os.Args[2:])
	case "probe":
		err = probe(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func hashPassword(args []string) error {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	password := fs.String("password", "", "明文密码（为空时从 stdin 读取一行）")
	_ = fs.Parse(args)

	plain := *password
	if plain == "" {
		if _, err := fmt.Fscanln(os.Stdin, &plain); err != nil {
			return fmt.Errorf("read password from stdin: %w", err)
		}
	}
	if len(plain) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	hashed, err := auth.HashPassword(plain)
	if err != nil {
		return err
	}
	fmt.Println(hashed)
	return nil
}

func createPublisher(args []string) error {
	fs := flag.NewFlagSet("create-publisher", flag.ExitOnError)
	var (
		email   = fs.String("email", "", "发布者邮箱（必填）")
		dbHost  = fs.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort  = fs.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName  = fs.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser  = fs.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass  = fs.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode = fs.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	_ = fs.Parse(args)

	addr := auth.NormalizeEmail(*email)
	if addr == "" {
		return errors.New("missing required flag: --email")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		return fmt.Errorf("load database config: %w", err)
	}
	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	var existing database.Publisher
	switch err := db.Where("email = ?", addr).First(&existing).Error; {
	case err == nil:
		return fmt.Errorf("publisher %q already exists", addr)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("query publisher: %w", err)
	}

	password, err := auth.GenerateRandomPassword(24)
	if err != nil {
		return fmt.Errorf("generate password: %w", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	publisher := database.Publisher{
		Email:              addr,
		PasswordHash:       hashed,
		MustChangePassword: true,
	}
	if err := db.Create(&publisher).Error; err != nil {
		return fmt.Errorf("create publisher: %w", err)
	}

	fmt.Printf("已创建发布者账号（首次登录需强制改密）：\n")
	fmt.Printf("邮箱: %s\n", addr)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
	return nil
}

// probe 走一遍 resolve → fetch → 页数探测，不写库也不上传。
func probe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	ref := fs.String("ref", "", "文档引用：分享链接或文件 ID（必填）")
	timeout := fs.Duration("timeout", 2*time.Minute, "整体超时")
	_ = fs.Parse(args)

	canonicalID, err := reference.Resolve(*ref)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	src, err := source.NewDriveSource(ctx, cfg.Drive, logger)
	if err != nil {
		return err
	}
	var scanner source.Scanner
	if s := source.NewClamdScanner(cfg.Clamd.Addr); s != nil {
		scanner = s
	}

	doc, data, err := source.NewFetcher(src, scanner, cfg.Drive.MaxDocumentBytes, logger).Fetch(ctx, canonicalID)
	if err != nil {
		return err
	}

	rasterizer := raster.NewRasterizer(raster.FitzEngine{}, raster.NewPDFCPUCounter(), raster.Options{}, logger)
	pages, err := rasterizer.PageCount(data)
	if err != nil {
		return err
	}

	fmt.Printf("id:    %s\n", doc.CanonicalID)
	fmt.Printf("name:  %s\n", doc.Name)
	fmt.Printf("mime:  %s\n", doc.MimeType)
	fmt.Printf("bytes: %d\n", len(data))
	fmt.Printf("pages: %d\n", pages)
	return nil
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
