package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// FetchOKRs pulls raw OKR records from the batch_get API, chunking ids
// to the API's batch limit. Records are returned undecoded so the goal
// sync owns its own schema.
func (c *Client) FetchOKRs(ctx context.Context, okrIDs []string) ([]json.RawMessage, error) {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("tenant token: %w", err)
	}

	var records []json.RawMessage
	for from := 0; from < len(okrIDs); from += okrBatchSize {
		to := from + okrBatchSize
		if to > len(okrIDs) {
			to = len(okrIDs)
		}

		query := url.Values{}
		for _, id := range okrIDs[from:to] {
			query.Add("okr_ids", id)
		}
		query.Set("user_id_type", "open_id")
		query.Set("lang", "zh_cn")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.okrURL+"?"+query.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch okrs: %w", err)
		}

		var payload struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
			Data struct {
				OKRList []json.RawMessage `json:"okr_list"`
			} `json:"data"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetch okrs: status %d", resp.StatusCode)
		}
		if decodeErr != nil {
			return nil, fmt.Errorf("decode okrs: %w", decodeErr)
		}
		if payload.Code != 0 {
			return nil, fmt.Errorf("fetch okrs: code %d: %s", payload.Code, payload.Msg)
		}

		records = append(records, payload.Data.OKRList...)
	}
	return records, nil
}
