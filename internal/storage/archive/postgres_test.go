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

package archive

import (
	"context"
	"os"
	"testing"
)

func testDSN(t *testing.T) string {
	dsn := os.Getenv("TEST_ARCHIVE_DSN")
	if dsn == "" {
		t.Skip("TEST_ARCHIVE_DSN not set, skipping Postgres archive tests")
	}
	return dsn
}

func TestPostgresStore_Contract(t *testing.T) {
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, testDSN(t))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	defer s.Close()
	// 清空表以便测试独立
	_, _ = s.pool.Exec(ctx, `DELETE FROM checkpoint_archive`)
	runStoreContract(t, s)
}
