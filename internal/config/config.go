package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                 string
	Port                string
	SessionSecret       string
	DatabaseURL         string
	RedisURL            string
	FrontendURLEndsWith string
	DevPassword         string
	AllowCrossSiteDev   bool
	HealthAdminKey      string
	MetricsEnabled      bool
	AutoMigrate         bool

	// Budget book template: local path/dir first, then S3 when a bucket is set.
	TemplatePath       string
	TemplateDir        string
	TemplateS3Bucket   string
	TemplateS3Key      string
	TemplateS3Region   string
	TemplateS3Endpoint string

	SubjectDefaultsPath string

	ERPBaseURL       string
	ERPAPIKey        string
	ERPAPISecret     string
	ERPCompany       string
	ERPFiscalYear    string
	ERPBudgetAgainst string
	ERPTimeout       time.Duration
}

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ERPNEXT_BUDGET_AGAINST", "Cost Center")
	viper.SetDefault("ERPNEXT_TIMEOUT_SECONDS", 20)
	viper.SetDefault("METRICS_ENABLED", true)

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}

	return &Config{
		Env:                 env,
		Port:                viper.GetString("PORT"),
		SessionSecret:       viper.GetString("SESSION_SECRET"),
		DatabaseURL:         dbURL,
		RedisURL:            viper.GetString("REDIS_URL"),
		FrontendURLEndsWith: viper.GetString("FRONTEND_URL_ENDS_WITH"),
		DevPassword:         viper.GetString("DEV_PASSWORD"),
		AllowCrossSiteDev:   strings.EqualFold(viper.GetString("ALLOW_CROSS_SITE_DEV"), "true"),
		HealthAdminKey:      viper.GetString("HEALTH_ADMIN_KEY"),
		MetricsEnabled:      viper.GetBool("METRICS_ENABLED"),
		AutoMigrate:         viper.GetBool("AUTO_MIGRATE"),

		TemplatePath:       viper.GetString("BUDGET_BOOK_TEMPLATE_PATH"),
		TemplateDir:        viper.GetString("BUDGET_BOOK_TEMPLATE_DIR"),
		TemplateS3Bucket:   viper.GetString("BUDGET_BOOK_TEMPLATE_S3_BUCKET"),
		TemplateS3Key:      viper.GetString("BUDGET_BOOK_TEMPLATE_S3_KEY"),
		TemplateS3Region:   viper.GetString("BUDGET_BOOK_TEMPLATE_S3_REGION"),
		TemplateS3Endpoint: viper.GetString("BUDGET_BOOK_TEMPLATE_S3_ENDPOINT"),

		SubjectDefaultsPath: viper.GetString("SUBJECT_DEFAULTS_PATH"),

		ERPBaseURL:       strings.TrimSpace(viper.GetString("ERPNEXT_BASE_URL")),
		ERPAPIKey:        viper.GetString("ERPNEXT_API_KEY"),
		ERPAPISecret:     viper.GetString("ERPNEXT_API_SECRET"),
		ERPCompany:       viper.GetString("ERPNEXT_COMPANY"),
		ERPFiscalYear:    viper.GetString("ERPNEXT_FISCAL_YEAR"),
		ERPBudgetAgainst: viper.GetString("ERPNEXT_BUDGET_AGAINST"),
		ERPTimeout:       time.Duration(viper.GetInt("ERPNEXT_TIMEOUT_SECONDS")) * time.Second,
	}, nil
}
