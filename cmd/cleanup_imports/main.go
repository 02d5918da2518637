// cleanup_imports physically deletes import sessions that can no longer be
// committed: pending sessions past their expiry and committed sessions older
// than the retention window. The API itself never deletes sessions; it only
// stops honoring them, so this runs from cron.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	retentionDays := flag.Int("retention-days", 90, "keep committed sessions this many days")
	dry := flag.Bool("dry-run", true, "Preview actions without modifying the DB")
	yes := flag.Bool("yes", false, "Confirm destructive action when dry-run=false")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN must be set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}

	now := time.Now()
	cutoff := now.AddDate(0, 0, -*retentionDays)

	var expired, retained int64
	db.Raw("SELECT count(*) FROM import_sessions WHERE committed_at IS NULL AND expires_at < ?", now).Scan(&expired)
	db.Raw("SELECT count(*) FROM import_sessions WHERE committed_at IS NOT NULL AND committed_at < ?", cutoff).Scan(&retained)

	fmt.Println("Planned actions:")
	fmt.Printf(" - DELETE %d expired uncommitted sessions\n", expired)
	fmt.Printf(" - DELETE %d committed sessions older than %d days\n", retained, *retentionDays)
	if *dry {
		fmt.Println("dry-run: no changes made. Use --dry-run=false --yes to execute.")
		return
	}
	if !*yes {
		fmt.Println("Destructive! Pass --yes to proceed.")
		return
	}
	if err := db.Exec("DELETE FROM import_sessions WHERE committed_at IS NULL AND expires_at < ?", now).Error; err != nil {
		log.Fatalf("delete expired sessions failed: %v", err)
	}
	if err := db.Exec("DELETE FROM import_sessions WHERE committed_at IS NOT NULL AND committed_at < ?", cutoff).Error; err != nil {
		log.Fatalf("delete old committed sessions failed: %v", err)
	}
	fmt.Println("cleanup done")
}
