// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/buildqueue"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/codec"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/config"
)

// taskRow is one line of "jenkins-proxy tasks" output.
type taskRow struct {
	Seq        int64     `json:"seq"`
	Queue      string    `json:"queue"`
	ID         string    `json:"id"`
	Repository string    `json:"repository"`
	Project    string    `json:"project"`
	Commit     string    `json:"commit"`
	Branch     string    `json:"branch,omitempty"`
	Phase      string    `json:"phase"`
	QueueItem  *int64    `json:"queue_item,omitempty"`
	Build      *int64    `json:"build,omitempty"`
	BuildURL   string    `json:"build_url,omitempty"`
	Attempt    int       `json:"attempt"`
	NotBefore  time.Time `json:"not_before"`
}

func runTasks(args []string, stdout io.Writer) error {
	var configPath, databasePath, queue string
	var outputJSON, raw bool
	flags := newFlagSet("tasks")
	flags.StringVar(&configPath, "config", "", "config file (default $"+config.EnvironmentVariable+")")
	flags.StringVar(&databasePath, "db", "", "task database, overriding store.path from the config file")
	flags.StringVar(&queue, "queue", "", "only list tasks in this queue")
	flags.BoolVar(&outputJSON, "json", false, "output as JSON instead of a table")
	flags.BoolVar(&raw, "raw", false, "print each stored record in CBOR diagnostic notation")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if databasePath == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		databasePath = cfg.Store.Path
	}
	if _, err := os.Stat(databasePath); err != nil {
		return fmt.Errorf("task database: %w", err)
	}

	database, err := buildqueue.OpenDatabase(buildqueue.DatabaseConfig{
		Path:     databasePath,
		ReadOnly: true,
	})
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	var entries []buildqueue.Entry
	if queue != "" {
		entries, err = database.Queue(queue).List(ctx)
	} else {
		entries, err = database.List(ctx)
	}
	if err != nil {
		return err
	}

	if raw {
		return writeRawTasks(stdout, entries)
	}

	rows := make([]taskRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, newTaskRow(entry))
	}
	return writeTasks(stdout, rows, outputJSON)
}

func newTaskRow(entry buildqueue.Entry) taskRow {
	task := entry.Task
	return taskRow{
		Seq:        entry.Seq,
		Queue:      entry.Queue,
		ID:         task.ID,
		Repository: task.Repository,
		Project:    task.ExecutorProjectName,
		Commit:     task.CommitSHA,
		Branch:     task.Branch(),
		Phase:      task.Phase().String(),
		QueueItem:  task.ExecutorQueueHandle,
		Build:      task.ExecutorBuildID,
		BuildURL:   task.BuildURL(),
		Attempt:    task.Attempt,
		NotBefore:  entry.NotBefore,
	}
}

func writeTasks(stdout io.Writer, rows []taskRow, outputJSON bool) error {
	if outputJSON {
		encoder := json.NewEncoder(stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(stdout, "no tasks")
		return nil
	}

	writer := tabwriter.NewWriter(stdout, 2, 0, 3, ' ', 0)
	fmt.Fprintf(writer, "QUEUE\tREPOSITORY\tPROJECT\tCOMMIT\tPHASE\tJENKINS\tATTEMPT\n")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			row.Queue, row.Repository, row.Project, shortCommit(row.Commit), row.Phase, jenkinsRef(row), row.Attempt)
	}
	return writer.Flush()
}

// writeRawTasks prints the record column of each row as the store
// encodes it. The webhook payload is stored separately and is not
// part of the record.
func writeRawTasks(stdout io.Writer, entries []buildqueue.Entry) error {
	for _, entry := range entries {
		record, err := codec.Marshal(entry.Task)
		if err != nil {
			return fmt.Errorf("task %d: %w", entry.Seq, err)
		}
		text, err := codec.Diagnose(record)
		if err != nil {
			return fmt.Errorf("task %d: %w", entry.Seq, err)
		}
		fmt.Fprintf(stdout, "%d %s %s\n", entry.Seq, entry.Queue, text)
	}
	return nil
}

// jenkinsRef renders "#<build>" for running tasks and "queue/<item>"
// for submitted ones.
func jenkinsRef(row taskRow) string {
	switch {
	case row.Build != nil:
		return "#" + strconv.FormatInt(*row.Build, 10)
	case row.QueueItem != nil:
		return "queue/" + strconv.FormatInt(*row.QueueItem, 10)
	default:
		return "-"
	}
}

func shortCommit(commit string) string {
	if buildqueue.IsFullSHA(commit) {
		return commit[:12]
	}
	return commit
}
