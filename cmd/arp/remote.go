// Copyright 2026 fanjia1024
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

package main

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

// remoteClient 访问 arp serve 的查询 API
type remoteClient struct {
	http *resty.Client
}

// agentPath 构造 /api/agents/<id>/<suffix>，id 按路径段转义
func agentPath(agentID, suffix string) string {
	return "/api/agents/" + url.PathEscape(agentID) + "/" + suffix
}

func newClient(baseURL string) *remoteClient {
	return &remoteClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

func (c *remoteClient) get(path string) (map[string]interface{}, error) {
	var out map[string]interface{}
	var apiErr struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	resp, err := c.http.R().
		SetResult(&out).
		SetError(&apiErr).
		Get(path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		if apiErr.Error != "" {
			return nil, fmt.Errorf("GET %s: %d %s (%s)", path, resp.StatusCode(), apiErr.Error, apiErr.Kind)
		}
		return nil, fmt.Errorf("GET %s: %s", path, resp.String())
	}
	return out, nil
}
