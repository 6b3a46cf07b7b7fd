package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lizamazieva41-ai/lili-sub002/config"
	"github.com/lizamazieva41-ai/lili-sub002/internal/apikeys"
	"github.com/lizamazieva41-ai/lili-sub002/internal/cache"
	"github.com/lizamazieva41-ai/lili-sub002/internal/database"
	"github.com/lizamazieva41-ai/lili-sub002/internal/gating"
	"github.com/lizamazieva41-ai/lili-sub002/internal/licensing"
)

type adminTool struct {
	licenses *licensing.Service
	gate     *gating.Engine
	keys     *apikeys.Service
	store    *database.Repository
	reader   *bufio.Reader
}

func main() {
	fmt.Println("========================================")
	fmt.Println(" License Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LoggingConfig)

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		fmt.Printf("Failed to run migrations: %v\n", err)
		os.Exit(1)
	}

	cacheService, err := cache.NewCacheService(cfg.RedisConfig, logger)
	if err != nil {
		fmt.Printf("Failed to connect to Redis: %v\n", err)
		os.Exit(1)
	}
	defer cacheService.Close()

	repo := database.NewRepository(db)
	licenseService := licensing.NewService(repo, cacheService, logger)
	engine := gating.NewEngine(ctx, licenseService, cacheService, logger)
	keyService := apikeys.NewService(
		repo, cacheService,
		apikeys.NewUsageEnforcer(repo),
		cfg.LicensingConfig.APIKeyPrefix,
		logger,
	)

	tool := &adminTool{
		licenses: licenseService,
		gate:     engine,
		keys:     keyService,
		store:    repo,
		reader:   bufio.NewReader(os.Stdin),
	}

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Create user")
		fmt.Println("  2. Create license")
		fmt.Println("  3. Check license")
		fmt.Println("  4. Renew license")
		fmt.Println("  5. Cancel license")
		fmt.Println("  6. Create API key")
		fmt.Println("  7. Validate API key")
		fmt.Println("  8. Revoke API key")
		fmt.Println("  9. List allowed features")
		fmt.Println(" 10. Toggle experimental feature")
		fmt.Println(" 11. Show plan info")
		fmt.Println(" 12. Exit")
		fmt.Print("\nSelect option: ")

		switch tool.readLine() {
		case "1":
			tool.createUser(ctx)
		case "2":
			tool.createLicense(ctx)
		case "3":
			tool.checkLicense(ctx)
		case "4":
			tool.renewLicense(ctx)
		case "5":
			tool.cancelLicense(ctx)
		case "6":
			tool.createApiKey(ctx)
		case "7":
			tool.validateApiKey(ctx)
		case "8":
			tool.revokeApiKey(ctx)
		case "9":
			tool.listAllowedFeatures(ctx)
		case "10":
			tool.toggleExperimental(ctx)
		case "11":
			showPlanInfo()
		case "12":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Invalid option")
		}
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := os.Stderr
	if cfg.Output == "stdout" {
		out = os.Stdout
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if !cfg.JSONFormat {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return logger
}

func (t *adminTool) readLine() string {
	input, _ := t.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (t *adminTool) prompt(label string) string {
	fmt.Print(label)
	return t.readLine()
}

func (t *adminTool) createUser(ctx context.Context) {
	fmt.Println("\n--- Create User ---")
	user := &database.User{
		ID:           uuid.New().String(),
		Username:     t.prompt("Username: "),
		Email:        t.prompt("Email: "),
		AccountLevel: strings.ToUpper(t.prompt("Account level (BASIC/PREMIUM/ENTERPRISE): ")),
	}

	if err := t.store.CreateUser(ctx, user); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("User created: %s\n", user.ID)
}

func (t *adminTool) createLicense(ctx context.Context) {
	fmt.Println("\n--- Create License ---")
	fmt.Println("Plans:")
	fmt.Println("  1. BASIC      (1 account, 100 messages/day)")
	fmt.Println("  2. PREMIUM    (10 accounts, 1000 messages/day, API access)")
	fmt.Println("  3. ENTERPRISE (unlimited, priority support)")
	fmt.Println("  4. CUSTOM")

	var plan string
	switch t.prompt("Select plan (1-4): ") {
	case "1":
		plan = database.PlanBasic
	case "2":
		plan = database.PlanPremium
	case "3":
		plan = database.PlanEnterprise
	case "4":
		plan = database.PlanCustom
	default:
		fmt.Println("Invalid plan, defaulting to BASIC")
		plan = database.PlanBasic
	}

	var cycle string
	switch t.prompt("Billing cycle: 1=MONTHLY 2=QUARTERLY 3=YEARLY 4=LIFETIME: ") {
	case "2":
		cycle = database.BillingQuarterly
	case "3":
		cycle = database.BillingYearly
	case "4":
		cycle = database.BillingLifetime
	default:
		cycle = database.BillingMonthly
	}

	license, err := t.licenses.CreateLicense(ctx, licensing.CreateLicenseInput{
		UserID:       t.prompt("User ID: "),
		Plan:         plan,
		BillingCycle: cycle,
		AutoRenew:    strings.ToLower(t.prompt("Auto-renew? (y/n): ")) == "y",
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  License ID: %s\n", license.ID)
	fmt.Printf("  Plan:       %s\n", license.Plan)
	fmt.Printf("  Status:     %s\n", license.Status)
	fmt.Printf("  Expires:    %s\n", license.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Println("========================================")
}

func (t *adminTool) checkLicense(ctx context.Context) {
	fmt.Println("\n--- Check License ---")
	userID := t.prompt("User ID: ")

	var features []string
	if raw := t.prompt("Required features (comma-separated, blank for none): "); raw != "" {
		for _, f := range strings.Split(raw, ",") {
			features = append(features, strings.TrimSpace(f))
		}
	}

	result, err := t.licenses.CheckLicense(ctx, userID, features)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("\nValid: %v\n", result.IsValid)
	if result.Reason != "" {
		fmt.Printf("Reason: %s\n", result.Reason)
	}
	for _, v := range result.Violations {
		fmt.Printf("  [%s] %s\n", v.Type, v.Message)
	}
	if result.License != nil {
		fmt.Printf("License: %s (%s, %s)\n", result.License.ID, result.License.Plan, result.License.Status)
	}
}

func (t *adminTool) renewLicense(ctx context.Context) {
	fmt.Println("\n--- Renew License ---")
	licenseID := t.prompt("License ID: ")
	paymentMethodID := t.prompt("Payment method ID (blank to keep): ")

	license, err := t.licenses.RenewLicense(ctx, licenseID, paymentMethodID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Renewed until %s\n", license.ExpiresAt.Format("2006-01-02 15:04:05"))
}

func (t *adminTool) cancelLicense(ctx context.Context) {
	fmt.Println("\n--- Cancel License ---")
	licenseID := t.prompt("License ID: ")
	userID := t.prompt("Requesting user ID: ")
	reason := t.prompt("Reason: ")

	if _, err := t.licenses.CancelLicense(ctx, licenseID, userID, reason); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("License cancelled")
}

func (t *adminTool) createApiKey(ctx context.Context) {
	fmt.Println("\n--- Create API Key ---")
	licenseID := t.prompt("License ID: ")
	name := t.prompt("Key name: ")

	var permissions []string
	if raw := t.prompt("Permissions (comma-separated, e.g. read,write): "); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			permissions = append(permissions, strings.TrimSpace(p))
		}
	}

	created, err := t.keys.CreateApiKey(ctx, apikeys.CreateKeyInput{
		LicenseID:   licenseID,
		Name:        name,
		Permissions: database.KeyPermissions{Permissions: permissions},
	})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Key ID:  %s\n", created.ApiKey.ID)
	fmt.Printf("  API Key: %s\n", created.Plaintext)
	fmt.Println("========================================")
	fmt.Println("Store this key now. It cannot be shown again.")
}

func (t *adminTool) validateApiKey(ctx context.Context) {
	fmt.Println("\n--- Validate API Key ---")
	result, err := t.keys.ValidateApiKey(ctx, t.prompt("API key: "))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Printf("\nValid: %v\n", result.IsValid)
	if result.Reason != "" {
		fmt.Printf("Reason: %s\n", result.Reason)
	}
	for _, v := range result.Violations {
		fmt.Printf("  [%s] %s (current: %v)\n", v.Type, v.Message, v.Current)
	}
	if result.IsValid {
		out, _ := json.Marshal(result.Permissions)
		fmt.Printf("Permissions: %s\n", out)
	}
}

func (t *adminTool) revokeApiKey(ctx context.Context) {
	fmt.Println("\n--- Revoke API Key ---")
	keyID := t.prompt("Key ID: ")
	reason := t.prompt("Reason: ")

	if err := t.keys.RevokeApiKey(ctx, keyID, reason); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("API key revoked")
}

func (t *adminTool) listAllowedFeatures(ctx context.Context) {
	fmt.Println("\n--- Allowed Features ---")
	features, err := t.gate.GetAllowedFeatures(ctx, t.prompt("User ID: "))
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if len(features) == 0 {
		fmt.Println("No allowed features")
		return
	}
	for _, f := range features {
		fmt.Printf("  - %s\n", f)
	}
}

func (t *adminTool) toggleExperimental(ctx context.Context) {
	fmt.Println("\n--- Toggle Experimental Feature ---")
	userID := t.prompt("User ID: ")
	feature := t.prompt("Feature name: ")
	enabled := strings.ToLower(t.prompt("Enable? (y/n): ")) == "y"

	if err := t.gate.ToggleExperimentalFeature(ctx, userID, feature, enabled); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	if enabled {
		fmt.Printf("Feature %s enabled for user %s\n", feature, userID)
	} else {
		fmt.Printf("Feature %s disabled for user %s\n", feature, userID)
	}
}

func showPlanInfo() {
	fmt.Println("\n--- Plan Info ---")
	for _, plan := range []string{database.PlanBasic, database.PlanPremium, database.PlanEnterprise, database.PlanCustom} {
		cfg := licensing.PlanConfiguration(plan)
		fmt.Printf("\n%s:\n", plan)
		fmt.Printf("  Max API keys:      %d\n", apikeys.MaxKeysForPlan(plan))
		fmt.Printf("  Default key limit: %d requests/day\n", apikeys.DefaultUsageLimit(plan))
		fmt.Printf("  Features:          %d\n", len(cfg.Features))
		fmt.Printf("  Limits:            %d\n", len(cfg.Limits))
	}
}
