package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ClearXs/Violet/internal/message"
	"github.com/ClearXs/Violet/internal/storage"
)

func main() {
	path := flag.String("db", "violet.db", "sqlite database path")
	flag.Parse()

	db, err := gorm.Open(sqlite.Open(*path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	fmt.Println("--- Verifying Violet Database ---")

	if !db.Migrator().HasTable(&storage.Agent{}) {
		fmt.Println("Table 'agents' does not exist yet.")
	} else {
		var agents []storage.Agent
		db.Order("created_at asc").Find(&agents)
		fmt.Printf("Total Agents: %d\n", len(agents))
		for _, a := range agents {
			ids, err := a.InContextMessageIDs()
			if err != nil {
				fmt.Printf("  %s: broken in-context ids: %v\n", a.ID, err)
				continue
			}
			var found int64
			if len(ids) > 0 {
				db.Model(&storage.Message{}).Where("id IN ?", ids).Count(&found)
			}
			status := "ok"
			if int(found) != len(ids) {
				status = fmt.Sprintf("MISSING %d", len(ids)-int(found))
			}
			fmt.Printf("  %s (%s) in-context=%d [%s]\n", a.Name, a.Variant, len(ids), status)
		}
	}

	fmt.Println("\n------------------------------------")

	if !db.Migrator().HasTable(&storage.Message{}) {
		fmt.Println("Table 'messages' does not exist yet.")
	} else {
		var count int64
		db.Model(&storage.Message{}).Count(&count)
		fmt.Printf("Total Messages: %d\n", count)

		if count > 0 {
			var rows []storage.Message
			db.Order("seq desc").Limit(5).Find(&rows)
			fmt.Println("Latest 5 Messages (Local Time):")
			for _, r := range rows {
				m, err := message.FromRecord(r)
				if err != nil {
					fmt.Printf("  [%s] %s undecodable: %v\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.ID, err)
					continue
				}
				text := m.Render()
				if len(text) > 50 {
					text = text[:47] + "..."
				}
				fmt.Printf("  [%s] %s %s: %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.AgentID, r.Role, text)
			}
		}
	}

	fmt.Println("\n------------------------------------")

	if !db.Migrator().HasTable(&storage.ToolExecution{}) {
		fmt.Println("Table 'tool_executions' does not exist yet.")
	} else {
		var count int64
		db.Model(&storage.ToolExecution{}).Count(&count)
		fmt.Printf("Total Tool Executions: %d\n", count)

		var recs []storage.ToolExecution
		db.Order("started_at desc").Limit(5).Find(&recs)
		for _, r := range recs {
			fmt.Printf("  [%s] %s %s %dms\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.Tool, r.Status, r.DurationMS)
		}
	}
}
