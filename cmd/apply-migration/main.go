package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/config"
	"github.com/immuni-app/immuni-backend-exposure-ingestion/internal/database"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("Usage: %s <migration_file.sql>", os.Args[0])
	}

	content, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read migration file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	statements := splitStatements(string(content))
	for i, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("Failed to execute statement %d/%d: %v\nStatement: %s", i+1, len(statements), err, stmt)
		}
		fmt.Printf("Executed statement %d/%d\n", i+1, len(statements))
	}

	fmt.Println("Migration completed")
}

// splitStatements splits a migration file on semicolons, dropping comment
// lines and empty chunks.
func splitStatements(content string) []string {
	var sb strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	var statements []string
	for _, stmt := range strings.Split(sb.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		statements = append(statements, stmt)
	}
	return statements
}
