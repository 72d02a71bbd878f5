package main

import (
	"log"
	"os"
	"strings"
	"time"

	"kopkar/models"
	"kopkar/pkg/notify"
	"kopkar/process/intakewatch"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)

// systemActor stamps batch jobs that run without a human behind them.
var systemActor = models.Actor{Ref: "system", Role: models.RoleAdmin}

func main() {
	// Auto-load ./.env if present before reading vars
	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	root := &cobra.Command{
		Use:   "kopkar",
		Short: "Cooperative benefit fund backend",
		RunE:  runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API server",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Run schema migrations and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				initDB()
				log.Println("migration completed")
				return nil
			},
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Seed demo members (idempotent)",
			RunE: func(cmd *cobra.Command, args []string) error {
				initDB()
				seedDemoData()
				return nil
			},
		},
		jobsCommand(),
		&cobra.Command{
			Use:   "watch",
			Short: "Watch the receipt intake directory and attach OCR suggestions",
			RunE: func(cmd *cobra.Command, args []string) error {
				initDB()
				if err := initWorkflows(newNotifier()); err != nil {
					return err
				}
				return intakewatch.Run(db, artifacts)
			},
		},
	)
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	initDB()
	if err := initWorkflows(newNotifier()); err != nil {
		return err
	}

	r := gin.Default()
	setupRoutes(r)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	return r.Run(addr)
}

func jobsCommand() *cobra.Command {
	jobs := &cobra.Command{
		Use:   "jobs",
		Short: "Run batch maintenance jobs",
	}
	jobs.AddCommand(
		&cobra.Command{
			Use:   "overdue",
			Short: "Mark pending contributions past their period end as overdue",
			RunE: func(cmd *cobra.Command, args []string) error {
				initDB()
				if err := initWorkflows(newNotifier()); err != nil {
					return err
				}
				res, err := contributions.MarkOverdue(time.Now(), systemActor)
				if err != nil {
					return err
				}
				log.Printf("overdue job done: scanned=%d marked=%d", res.Scanned, res.Marked)
				return nil
			},
		},
		&cobra.Command{
			Use:   "defaulted",
			Short: "Mark disbursed loans past their repayment window as defaulted",
			RunE: func(cmd *cobra.Command, args []string) error {
				initDB()
				if err := initWorkflows(newNotifier()); err != nil {
					return err
				}
				res, err := loanLifecycle.MarkDefaulted(time.Now(), systemActor)
				if err != nil {
					return err
				}
				log.Printf("defaulted job done: scanned=%d marked=%d", res.Scanned, res.Marked)
				return nil
			},
		},
	)
	return jobs
}

// newNotifier wires kafka when brokers are configured and falls back to a
// no-op dispatcher for local runs.
func newNotifier() notify.Notifier {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		log.Println("KAFKA_BROKERS not set; notifications disabled")
		return notify.Nop{}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "kopkar-events"
	}
	return notify.NewKafkaNotifier(strings.Split(brokers, ","), topic)
}
