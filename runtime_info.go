// Copyright 2025 Patrick J. Scruggs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package slogscope

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/compute/metadata"
)

// projectEnvVars lists the variables consulted for the project ID, in order.
var projectEnvVars = []string{
	"SLOGSCOPE_PROJECT_ID",
	"GOOGLE_CLOUD_PROJECT",
	"GCLOUD_PROJECT",
	"GCP_PROJECT",
}

const metadataTimeout = 500 * time.Millisecond

var (
	detectedProjectID   string
	detectProjectIDOnce sync.Once

	// metadataProjectID asks the GCE metadata server for the project ID.
	metadataProjectID = defaultMetadataProjectID
)

// DetectProjectID returns the Google Cloud project used for trace
// correlation. Environment variables win; on Google Cloud compute the
// metadata server is asked as a last resort. The result, possibly empty, is
// computed once per process.
func DetectProjectID() string {
	detectProjectIDOnce.Do(func() {
		detectedProjectID = detectProjectID()
	})
	return detectedProjectID
}

// detectProjectID performs the uncached lookup behind DetectProjectID.
func detectProjectID() string {
	for _, name := range projectEnvVars {
		if id, ok := normalizeTraceProjectID(os.Getenv(name)); ok {
			return id
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	if id, ok := metadataProjectID(ctx); ok {
		if normalized, valid := normalizeTraceProjectID(id); valid {
			return normalized
		}
	}
	return ""
}

// defaultMetadataProjectID queries the metadata server when running on GCE,
// Cloud Run, GKE or similar environments.
func defaultMetadataProjectID(ctx context.Context) (string, bool) {
	if !metadata.OnGCE() {
		return "", false
	}
	id, err := metadata.ProjectIDWithContext(ctx)
	if err != nil {
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

// resetProjectIDCache forgets the cached project ID.
func resetProjectIDCache() {
	detectProjectIDOnce = sync.Once{}
	detectedProjectID = ""
}
