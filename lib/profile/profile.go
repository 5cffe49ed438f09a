// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package profile

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Profile is the configuration for one monitored repository.
type Profile struct {
	Owner string
	Name  string

	// Projects are the Jenkins job names (folder paths separated by
	// "/") built for every triggering event. Each project reports its
	// own commit status context.
	Projects []string

	// Queue names the durable queue this profile's tasks are tracked
	// in. Profiles sharing a queue are processed one task at a time.
	// Defaults to FullName.
	Queue string

	// RefHooks maps a full git ref ("refs/heads/main") to the action
	// taken when it is pushed.
	RefHooks map[string]RefHook

	// TriggerPhrase, when non-empty, makes a pull request comment
	// containing it start a build of the pull request head.
	TriggerPhrase string

	// NotifyEndpoint is a Slack incoming-webhook URL. Empty disables
	// announcements.
	NotifyEndpoint string

	// Members maps GitHub logins to the Slack text used to mention
	// them, typically "<@U024BE7LH>".
	Members map[string]string

	// Schedules start branch builds on a cron schedule.
	Schedules []Schedule
}

// RefHook is the action for pushes to one ref.
type RefHook struct {
	// BuildBranch, when non-empty, builds the pushed head commit with
	// this value sent to Jenkins as the branch specifier.
	BuildBranch string
}

// Schedule builds Branch whenever Cron fires.
type Schedule struct {
	Cron   string
	Branch string
}

// FullName returns "owner/name".
func (p *Profile) FullName() string {
	return p.Owner + "/" + p.Name
}

// RefHook returns the hook configured for ref, if any.
func (p *Profile) RefHook(ref string) (RefHook, bool) {
	hook, ok := p.RefHooks[ref]
	return hook, ok
}

// Mention returns the Slack mention for a GitHub login, or the login
// itself when no member mapping exists.
func (p *Profile) Mention(login string) string {
	if member := p.Members[login]; member != "" {
		return member
	}
	return login
}

// HasProject reports whether project is one of the profile's Jenkins
// projects.
func (p *Profile) HasProject(project string) bool {
	return slices.Contains(p.Projects, project)
}

func (p *Profile) validate() error {
	var errs []error
	if p.Owner == "" || p.Name == "" {
		errs = append(errs, errors.New("owner and name are required"))
	}
	if strings.Contains(p.Owner, "/") || strings.Contains(p.Name, "/") {
		errs = append(errs, fmt.Errorf("owner %q and name %q must not contain '/'", p.Owner, p.Name))
	}
	if len(p.Projects) == 0 {
		errs = append(errs, errors.New("at least one Jenkins project is required"))
	}
	for _, project := range p.Projects {
		if strings.TrimSpace(project) == "" {
			errs = append(errs, errors.New("Jenkins project names must not be empty"))
			break
		}
	}
	for index, schedule := range p.Schedules {
		if schedule.Cron == "" || schedule.Branch == "" {
			errs = append(errs, fmt.Errorf("schedule %d: cron and branch are required", index))
		}
	}
	return errors.Join(errs...)
}
