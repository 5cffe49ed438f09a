// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the jenkins-proxy configuration file.
//
// Configuration is loaded from a single file named either by the
// JENKINS_PROXY_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There is no file discovery.
//
// YAML is the native format. Files ending in .json or .jsonc are read
// in the legacy proxy layout: jenkinsAuth, jenkinsPort, listenPort,
// githubAuth and a profiles array whose entries inherit every other
// top-level key.
//
// ${VAR} and ${VAR:-default} patterns are expanded in secret and path
// fields after loading, so tokens can live in the environment. Sealed
// credentials (see lib/sealed) are merged with [Config.ApplyCredentials].
//
// Key exports:
//
//   - [Config] -- the whole file, with [Config.Validate] and
//     [Config.Profiles]
//   - [Default] -- the values used for anything the file omits
//   - [Load] and [LoadFile] -- the two entry points
package config
