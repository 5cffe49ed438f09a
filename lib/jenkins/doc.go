// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package jenkins is a small client for the parts of the Jenkins remote
// access API the proxy drives: starting a parameterized build, reading
// a queue item, and reading a build.
//
// Jenkins answers a build request with 201 Created and a Location
// header naming the queue item. When an identical request is already
// waiting in the queue, Jenkins instead redirects with 303 See Other;
// the client reports that as [ErrDuplicateSubmission] rather than
// following the redirect.
//
// Project names use "/" to separate folders: "team/service" is the job
// at /job/team/job/service.
package jenkins
