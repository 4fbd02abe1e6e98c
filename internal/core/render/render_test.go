package render

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderAgentConfigDeterministic(t *testing.T) {
	renderer := NewRenderer()
	in := linuxAgentInput()

	first, err := renderer.RenderAgentConfig(in, false)
	require.NoError(t, err)
	second, err := renderer.RenderAgentConfig(in, false)
	require.NoError(t, err)
	assert.Equal(t, first, second, "same input renders byte-identical output")

	// 输出为合法 JSON 文档，token 全大写
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(first), &doc))
	assert.Contains(t, doc, "BK_GSE_ACCESS_CLUSTER_ENDPOINTS")
	assert.Equal(t, "10.0.0.10:48533", doc["BK_GSE_ACCESS_CLUSTER_ENDPOINTS"])
}

func TestRenderAgentConfigLegacyLayout(t *testing.T) {
	renderer := NewRenderer()
	rendered, err := renderer.RenderAgentConfig(linuxAgentInput(), true)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rendered), &doc))
	assert.Equal(t, "agent", doc["run_mode"])
	assert.Equal(t, float64(0), doc["cloud_id"])
	assert.NotContains(t, doc, "proxy", "agent mode omits the proxy object")

	access, ok := doc["access"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "10.0.0.10:48533", access["cluster_endpoints"])
}

func TestRenderAgentConfigLegacyProxyLayout(t *testing.T) {
	renderer := NewRenderer()
	in := linuxAgentInput()
	in.Host.NodeType = "PROXY"
	in.NodeType = "proxy"

	rendered, err := renderer.RenderAgentConfig(in, true)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(rendered), &doc))
	assert.Equal(t, "proxy", doc["run_mode"])
	assert.Contains(t, doc, "proxy")
}

func TestRenderString(t *testing.T) {
	renderer := NewRenderer()
	out, err := renderer.RenderString("agent --cloud {{ cloud_id }}", map[string]interface{}{"cloud_id": 3})
	require.NoError(t, err)
	assert.Equal(t, "agent --cloud 3", out)
}

func TestRenderDataNested(t *testing.T) {
	renderer := NewRenderer()
	data := map[string]interface{}{
		"name":  "{{ plugin }}",
		"ports": []interface{}{"{{ port }}", "static"},
		"meta":  map[string]interface{}{"env": "{{ env }}"},
		"count": 3,
	}
	rendered, err := renderer.RenderData(data, map[string]interface{}{
		"plugin": "bkmonitorbeat",
		"port":   "9090",
		"env":    "prod",
	})
	require.NoError(t, err)

	out := rendered.(map[string]interface{})
	assert.Equal(t, "bkmonitorbeat", out["name"])
	assert.Equal(t, []interface{}{"9090", "static"}, out["ports"])
	assert.Equal(t, "prod", out["meta"].(map[string]interface{})["env"])
	assert.Equal(t, 3, out["count"])
}

func TestRenderDataForBlock(t *testing.T) {
	renderer := NewRenderer()
	block := map[string]interface{}{
		"$for":  "upstream.servers",
		"$item": "server",
		"$body": map[string]interface{}{
			"endpoint": "{{ server.ip }}:{{ server.port }}",
			"zone":     "{{ zone }}",
		},
	}
	rendered, err := renderer.RenderData(block, map[string]interface{}{
		"zone": "gz",
		"upstream": map[string]interface{}{
			"servers": []interface{}{
				map[string]interface{}{"ip": "10.0.0.1", "port": "58625"},
				map[string]interface{}{"ip": "10.0.0.2", "port": "58625"},
			},
		},
	})
	require.NoError(t, err)

	list, ok := rendered.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 2)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "10.0.0.1:58625", first["endpoint"])
	// 子上下文继承外层变量
	assert.Equal(t, "gz", first["zone"])
	second := list[1].(map[string]interface{})
	assert.Equal(t, "10.0.0.2:58625", second["endpoint"])
}

func TestRenderDataForBlockEmptyCollection(t *testing.T) {
	renderer := NewRenderer()
	block := map[string]interface{}{
		"$for":  "missing.path",
		"$item": "x",
		"$body": "{{ x }}",
	}
	rendered, err := renderer.RenderData(block, map[string]interface{}{})
	require.NoError(t, err)
	assert.Empty(t, rendered)
}
