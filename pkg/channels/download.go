// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

var downloadClient = resty.New().SetTimeout(30 * time.Second)

// downloadToFile fetches url and writes its body to dest, used by channel
// adapters to pull inbound media (photos, voice notes, documents) onto disk
// before handing the local path off to the agent loop.
func downloadToFile(ctx context.Context, url, dest string) error {
	resp, err := downloadClient.R().SetContext(ctx).SetOutput(dest).Get(url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("download returned HTTP %d", resp.StatusCode())
	}
	return nil
}
