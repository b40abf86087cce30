// Command inspect dumps relay state from a BadgerDB directory in read-only
// mode. Safe to run while the relay holds the lock.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

type storedUser struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type storedConversation struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	LastMessageID string    `json:"last_message_id"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type storedMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	Read           bool      `json:"read"`
}

func main() {
	dbPath := flag.String("db", "./data", "Path to badger DB")
	prefix := flag.String("prefix", "msg:", "Prefix to scan (user:, conv: or msg:)")
	flag.Parse()

	// BypassLockGuard allows opening while the relay holds the lock.
	opts := badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headerFor(*prefix))
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			// Skip lookup indexes, they carry keys, not records.
			key := string(item.Key())
			if strings.HasPrefix(key, "convid:") || strings.HasPrefix(key, "msgid:") {
				continue
			}
			err := item.Value(func(v []byte) error {
				row, err := rowFor(*prefix, v)
				if err != nil {
					fmt.Printf("Error decoding key %s: %v\n", key, err)
					return nil
				}
				table.Append(row)
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}

	table.Render()
	color.Cyan.Printf("%d record(s) under prefix %q\n", rows, *prefix)
}

func headerFor(prefix string) []string {
	switch prefix {
	case "user:":
		return []string{"ID", "Username", "Status", "Last Seen"}
	case "conv:":
		return []string{"ID", "Participants", "Last Message", "Last Activity"}
	default:
		return []string{"ID", "Conversation", "Sender", "Text", "Created", "Read"}
	}
}

func rowFor(prefix string, value []byte) ([]string, error) {
	switch prefix {
	case "user:":
		var u storedUser
		if err := json.Unmarshal(value, &u); err != nil {
			return nil, err
		}
		status := color.Red.Sprint("offline")
		if u.Online {
			status = color.Green.Sprint("online")
		}
		return []string{u.ID, u.Username, status, formatTime(u.LastSeen)}, nil
	case "conv:":
		var c storedConversation
		if err := json.Unmarshal(value, &c); err != nil {
			return nil, err
		}
		participants := c.Participants[0] + " / " + c.Participants[1]
		return []string{c.ID, participants, c.LastMessageID, formatTime(c.LastMessageAt)}, nil
	default:
		var m storedMessage
		if err := json.Unmarshal(value, &m); err != nil {
			return nil, err
		}
		return []string{m.ID, m.ConversationID, m.SenderID, m.Text,
			formatTime(m.CreatedAt), fmt.Sprintf("%t", m.Read)}, nil
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC822)
}
