package ping

import (
	"context"
	"testing"

	"github.com/oxlabs/ox-webservice/internal/arena"
	"github.com/oxlabs/ox-webservice/internal/module"
	"github.com/oxlabs/ox-webservice/internal/pipeline"
)

func TestDefaultReply(t *testing.T) {
	h, err := New(module.Deps{})
	if err != nil {
		t.Fatal(err)
	}

	st := pipeline.NewState(arena.New())
	res := h.HandleRequest(context.Background(), st)

	if res.Status != pipeline.Modified || res.Flow != pipeline.ContinueProcessing {
		t.Errorf("result = %+v", res)
	}
	if string(st.ResponseBody) != "pong" {
		t.Errorf("body = %q", st.ResponseBody)
	}
	if st.StatusCode != 200 {
		t.Errorf("status = %d", st.StatusCode)
	}
}

func TestConfiguredReply(t *testing.T) {
	h, err := New(module.Deps{Params: map[string]any{"reply": "alive"}})
	if err != nil {
		t.Fatal(err)
	}

	st := pipeline.NewState(arena.New())
	h.HandleRequest(context.Background(), st)

	if string(st.ResponseBody) != "alive" {
		t.Errorf("body = %q", st.ResponseBody)
	}
}
