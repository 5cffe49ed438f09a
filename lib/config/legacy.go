// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
)

// legacyGlobalKeys are the top-level keys of the legacy layout that
// are not inherited by profiles.
var legacyGlobalKeys = []string{"profiles", "jenkinsAuth", "jenkinsPort", "listenPort"}

type legacyGlobals struct {
	// JenkinsAuth is "user:token".
	JenkinsAuth string `json:"jenkinsAuth"`
	JenkinsPort int    `json:"jenkinsPort"`
	ListenPort  int    `json:"listenPort"`
	GitHubAuth  string `json:"githubAuth"`
}

type legacyProfile struct {
	RepoOwner          string   `json:"repoOwner"`
	RepoName           string   `json:"repoName"`
	JenkinsProject     string   `json:"jenkinsProject"`
	JenkinsProjects    []string `json:"jenkinsProjects"`
	TriggerPhrase      string   `json:"triggerPhrase"`
	SlackAlertEndpoint string   `json:"slackAlertEndpoint"`
	RefHooks           map[string]struct {
		BuildBranch string `json:"buildBranch"`
	} `json:"refHooks"`
	MemberMap map[string]string `json:"githubAccountSlackMemberMap"`
}

// loadLegacy reads the legacy JSON layout into c. Every top-level key
// other than the process-wide ones is copied into each profile unless
// the profile sets it itself.
func (c *Config) loadLegacy(data []byte) error {
	data = jsonc.ToJSON(data)

	var globals legacyGlobals
	if err := json.Unmarshal(data, &globals); err != nil {
		return err
	}
	var document map[string]json.RawMessage
	if err := json.Unmarshal(data, &document); err != nil {
		return err
	}
	var rawProfiles []map[string]json.RawMessage
	if raw, ok := document["profiles"]; ok {
		if err := json.Unmarshal(raw, &rawProfiles); err != nil {
			return fmt.Errorf("profiles: %w", err)
		}
	}

	if globals.JenkinsAuth != "" {
		user, token, _ := strings.Cut(globals.JenkinsAuth, ":")
		c.Jenkins.User = user
		c.Jenkins.APIToken = token
	}
	if globals.JenkinsPort != 0 {
		c.Jenkins.BaseURL = fmt.Sprintf("http://localhost:%d", globals.JenkinsPort)
	}
	if globals.ListenPort != 0 {
		c.Listen = fmt.Sprintf(":%d", globals.ListenPort)
	}
	if globals.GitHubAuth != "" {
		c.GitHub.Token = globals.GitHubAuth
	}
	c.Jenkins.CrumbIssuer = true
	c.Defaults.TriggerPhrase = ""

	inherited := make(map[string]json.RawMessage, len(document))
	for key, value := range document {
		if !slices.Contains(legacyGlobalKeys, key) {
			inherited[key] = value
		}
	}

	for index, rawProfile := range rawProfiles {
		merged := make(map[string]json.RawMessage, len(inherited)+len(rawProfile))
		for key, value := range inherited {
			merged[key] = value
		}
		for key, value := range rawProfile {
			merged[key] = value
		}
		encoded, err := json.Marshal(merged)
		if err != nil {
			return fmt.Errorf("profile %d: %w", index, err)
		}
		var legacy legacyProfile
		if err := json.Unmarshal(encoded, &legacy); err != nil {
			return fmt.Errorf("profile %d: %w", index, err)
		}
		c.Profiles = append(c.Profiles, legacy.convert())
	}
	return nil
}

func (legacy legacyProfile) convert() ProfileConfig {
	converted := ProfileConfig{
		Owner:          legacy.RepoOwner,
		Name:           legacy.RepoName,
		Projects:       legacy.JenkinsProjects,
		TriggerPhrase:  legacy.TriggerPhrase,
		NotifyEndpoint: legacy.SlackAlertEndpoint,
		Members:        legacy.MemberMap,
	}
	if len(converted.Projects) == 0 && legacy.JenkinsProject != "" {
		converted.Projects = []string{legacy.JenkinsProject}
	}
	if len(legacy.RefHooks) > 0 {
		converted.RefHooks = make(map[string]RefHookConfig, len(legacy.RefHooks))
		for ref, hook := range legacy.RefHooks {
			converted.RefHooks[ref] = RefHookConfig{BuildBranch: hook.BuildBranch}
		}
	}
	return converted
}
