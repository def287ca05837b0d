package inference

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"notechart/domain/core"
	"notechart/domain/policy"
	"notechart/domain/stage"
	"notechart/internal/fields"
	"notechart/internal/statistics"
	"notechart/internal/testkit"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Infer(ctx context.Context, st stage.StageName, req any) ([]byte, error) {
	args := m.Called(ctx, st, req)
	raw, _ := args.Get(0).([]byte)
	return raw, args.Error(1)
}

func testPolicy() *policy.Policy {
	p := policy.Default()
	p.FixedVocabularies = map[string][]string{
		"mood":   {"calm", "focused", "tired"},
		"energy": {"low", "medium", "high"},
	}
	return p
}

func testUniverse() *fields.Universe {
	return fields.Build(fields.FromTemplate(testkit.JournalTemplate()), fields.SystemFields(), nil)
}

func testSample() *statistics.Sample {
	notes := testkit.Notes(4, 24*time.Hour, func(i int) map[string]any {
		return map[string]any{"summary": "felt " + testkit.Cycle("sleepy", "great")(i)}
	})
	return statistics.NewSample(notes, core.TimeRange{}, 0)
}
