package render

import (
	"encoding/json"
	"strings"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// Renderer 配置渲染器
type Renderer struct {
	engine *Engine
}

// NewRenderer 创建渲染器，模板缓存进程内共享
func NewRenderer() *Renderer {
	return &Renderer{engine: NewEngine()}
}

// RenderString 渲染字符串模板
func (r *Renderer) RenderString(source string, context map[string]interface{}) (string, error) {
	return r.engine.Render(source, context)
}

// RenderData 嵌套数据渲染
// 字符串按模板渲染；映射与列表递归处理；含 $for/$item/$body 的映射按路径展开为列表
func (r *Renderer) RenderData(data interface{}, context map[string]interface{}) (interface{}, error) {
	switch typed := data.(type) {
	case string:
		return r.engine.Render(typed, context)
	case map[string]interface{}:
		if isForBlock(typed) {
			return r.renderForBlock(typed, context)
		}
		rendered := make(map[string]interface{}, len(typed))
		for key, value := range typed {
			child, err := r.RenderData(value, context)
			if err != nil {
				return nil, err
			}
			rendered[key] = child
		}
		return rendered, nil
	case []interface{}:
		rendered := make([]interface{}, 0, len(typed))
		for _, value := range typed {
			child, err := r.RenderData(value, context)
			if err != nil {
				return nil, err
			}
			rendered = append(rendered, child)
		}
		return rendered, nil
	default:
		return data, nil
	}
}

func isForBlock(data map[string]interface{}) bool {
	_, hasFor := data["$for"]
	_, hasItem := data["$item"]
	_, hasBody := data["$body"]
	return hasFor && hasItem && hasBody
}

// renderForBlock 迭代 $for 指向的列表，逐项绑定 $item 后深拷贝渲染 $body
func (r *Renderer) renderForBlock(block map[string]interface{}, context map[string]interface{}) ([]interface{}, error) {
	path, ok := block["$for"].(string)
	if !ok {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "$for 必须是上下文路径")
	}
	itemName, ok := block["$item"].(string)
	if !ok {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "$item 必须是变量名")
	}

	collection := lookupPath(context, path)
	items := toList(collection)
	results := make([]interface{}, 0, len(items))
	for _, item := range items {
		// 子上下文继承外层变量，$item 覆盖同名键
		child := make(map[string]interface{}, len(context)+1)
		for key, value := range context {
			child[key] = value
		}
		child[itemName] = item

		body := deepCopy(block["$body"])
		rendered, err := r.RenderData(body, child)
		if err != nil {
			return nil, err
		}
		results = append(results, rendered)
	}
	return results, nil
}

func lookupPath(context map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	var value interface{} = context
	for _, part := range parts {
		value = access(value, part)
		if value == nil {
			return nil
		}
	}
	return value
}

func deepCopy(data interface{}) interface{} {
	switch typed := data.(type) {
	case map[string]interface{}:
		copied := make(map[string]interface{}, len(typed))
		for key, value := range typed {
			copied[key] = deepCopy(value)
		}
		return copied
	case []interface{}:
		copied := make([]interface{}, len(typed))
		for i, value := range typed {
			copied[i] = deepCopy(value)
		}
		return copied
	default:
		return data
	}
}

// RenderAgentConfig 渲染 Agent 配置文档
// 新版输出大写 token 的 JSON 文档；is_legacy 时输出旧版扁平布局
func (r *Renderer) RenderAgentConfig(in ContextInput, isLegacy bool) (string, error) {
	if isLegacy {
		context, err := AssembleLegacyContext(in)
		if err != nil {
			return "", err
		}
		return r.engine.Render(legacyAgentConfigTemplate, context)
	}

	tokens, err := AssembleContext(in)
	if err != nil {
		return "", err
	}
	// map 序列化按键排序，渲染结果逐位确定
	raw, err := json.MarshalIndent(tokens, "", "    ")
	if err != nil {
		return "", pkgErrors.Wrap(pkgErrors.CodeInternalError, "序列化配置文档失败", err)
	}
	return string(raw), nil
}
