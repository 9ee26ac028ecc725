package server

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkEngine(b *testing.B) {
	messages := map[string]string{
		"Ping":           `{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		"ListTools":      `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		"ReadResource":   `{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"tari://mining_status"}}`,
		"CallTool":       `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_mining_config"}}`,
		"ValidateFailed": `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"set_mining_mode","arguments":{"mode":"custom","custom_cpu_usage":150}}}`,
		"Forbidden":      `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"send_tari","arguments":{"amount":"1","destination":"` + destination + `"}}}`,
	}

	for name, msg := range messages {
		for _, auditOn := range []bool{true, false} {
			b.Run(fmt.Sprintf("%s/audit=%t", name, auditOn), func(b *testing.B) {
				cfg := enabledConfig()
				cfg.AuditLogging = auditOn
				f := newFixture(b, cfg)
				raw := []byte(msg)
				ctx := context.Background()

				b.ReportAllocs()
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if out := f.engine.Handle(ctx, testCaller, raw); out == nil {
						b.Fatal("no response")
					}
				}
			})
		}
	}
}

func BenchmarkEngineParallel(b *testing.B) {
	f := newFixture(b, enabledConfig())
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"tari://wallet_balance"}}`)

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			f.engine.Handle(ctx, testCaller, raw)
		}
	})
}
