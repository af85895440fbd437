// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianCost/services/store"
)

// CostFeed is the narrow contract to whatever produces fresh cost rows
// (a provider billing export, a collector sidecar). The sync workflow pulls
// from it; everything about how rows are produced stays outside the core.
type CostFeed interface {
	FetchRecords(ctx context.Context, since time.Time) ([]store.CostRecord, error)
}

// EmptyFeed is the default feed when none is configured. Sync runs against
// it complete successfully with zero new records.
type EmptyFeed struct{}

func (EmptyFeed) FetchRecords(context.Context, time.Time) ([]store.CostRecord, error) {
	return nil, nil
}
