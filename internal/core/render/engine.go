package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	pkgErrors "github.com/TencentBlueKing/bk-nodeman-sub006/pkg/errors"
)

// 旧版 GSE 模板的 __TOKEN__ 写法，解析前统一改写为 {{ TOKEN }}
var legacyTokenPattern = regexp.MustCompile(`(__[0-9A-Z_]+__)`)

// RewriteLegacyTokens __NAME__ 改写为 {{ NAME }}
func RewriteLegacyTokens(content string) string {
	return legacyTokenPattern.ReplaceAllStringFunc(content, func(matched string) string {
		return "{{ " + matched[2:len(matched)-2] + " }}"
	})
}

// Engine 受限模板引擎
// 仅支持变量取值、default 过滤器、if/for 控制块与 loop.first，不执行任意表达式
// 编译结果按模板原文缓存，可并发读
type Engine struct {
	cache sync.Map // source -> *template
}

// NewEngine 创建模板引擎
func NewEngine() *Engine {
	return &Engine{}
}

// Render 改写旧版 token 后渲染模板
func (e *Engine) Render(source string, context map[string]interface{}) (string, error) {
	rewritten := RewriteLegacyTokens(source)
	tpl, err := e.compile(rewritten)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tpl.execute(&sb, newScope(context)); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (e *Engine) compile(source string) (*template, error) {
	if cached, ok := e.cache.Load(source); ok {
		return cached.(*template), nil
	}
	tpl, err := parse(source)
	if err != nil {
		return nil, err
	}
	// 并发编译同一模板时先存者生效
	actual, _ := e.cache.LoadOrStore(source, tpl)
	return actual.(*template), nil
}

// === 作用域 ===

type scope struct {
	frames []map[string]interface{}
}

func newScope(root map[string]interface{}) *scope {
	return &scope{frames: []map[string]interface{}{root}}
}

func (s *scope) push(frame map[string]interface{}) { s.frames = append(s.frames, frame) }
func (s *scope) pop()                              { s.frames = s.frames[:len(s.frames)-1] }

func (s *scope) lookup(name string) (interface{}, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if value, ok := s.frames[i][name]; ok {
			return value, true
		}
	}
	return nil, false
}

// === 模板结构 ===

type node interface {
	render(sb *strings.Builder, sc *scope) error
}

type template struct {
	nodes []node
}

func (t *template) execute(sb *strings.Builder, sc *scope) error {
	for _, n := range t.nodes {
		if err := n.render(sb, sc); err != nil {
			return err
		}
	}
	return nil
}

type textNode struct {
	text string
}

func (n *textNode) render(sb *strings.Builder, _ *scope) error {
	sb.WriteString(n.text)
	return nil
}

type outputNode struct {
	expr expr
}

func (n *outputNode) render(sb *strings.Builder, sc *scope) error {
	value, err := n.expr.eval(sc)
	if err != nil {
		return err
	}
	sb.WriteString(formatValue(value))
	return nil
}

type ifNode struct {
	cond     expr
	body     []node
	elseBody []node
}

func (n *ifNode) render(sb *strings.Builder, sc *scope) error {
	value, err := n.cond.eval(sc)
	if err != nil {
		return err
	}
	branch := n.elseBody
	if truthy(value) {
		branch = n.body
	}
	for _, child := range branch {
		if err := child.render(sb, sc); err != nil {
			return err
		}
	}
	return nil
}

type forNode struct {
	varName    string
	collection expr
	body       []node
}

func (n *forNode) render(sb *strings.Builder, sc *scope) error {
	value, err := n.collection.eval(sc)
	if err != nil {
		return err
	}
	items := toList(value)
	for i, item := range items {
		sc.push(map[string]interface{}{
			n.varName: item,
			"loop": map[string]interface{}{
				"first":  i == 0,
				"last":   i == len(items)-1,
				"index0": i,
				"index":  i + 1,
			},
		})
		for _, child := range n.body {
			if err := child.render(sb, sc); err != nil {
				sc.pop()
				return err
			}
		}
		sc.pop()
	}
	return nil
}

// === 解析 ===

type segment struct {
	kind    int // 0 文本 1 输出 2 控制
	content string
}

const (
	segText = iota
	segOutput
	segControl
)

// lex 切分文本、{{ }} 与 {% %} 片段，支持 {%- 与 -%} 去除邻接空白
func lex(source string) []segment {
	var segments []segment
	remaining := source
	for {
		outIdx := strings.Index(remaining, "{{")
		ctlIdx := strings.Index(remaining, "{%")
		idx, open, close := -1, "", ""
		kind := segText
		switch {
		case outIdx >= 0 && (ctlIdx < 0 || outIdx < ctlIdx):
			idx, open, close, kind = outIdx, "{{", "}}", segOutput
		case ctlIdx >= 0:
			idx, open, close, kind = ctlIdx, "{%", "%}", segControl
		}
		if idx < 0 {
			if remaining != "" {
				segments = append(segments, segment{kind: segText, content: remaining})
			}
			return segments
		}
		text := remaining[:idx]
		rest := remaining[idx+len(open):]
		end := strings.Index(rest, close)
		if end < 0 {
			// 未闭合的定界符按文本处理
			segments = append(segments, segment{kind: segText, content: remaining})
			return segments
		}
		inner := rest[:end]
		remaining = rest[end+len(close):]

		if strings.HasPrefix(inner, "-") {
			inner = inner[1:]
			text = strings.TrimRight(text, " \t\n\r")
		}
		if strings.HasSuffix(inner, "-") {
			inner = inner[:len(inner)-1]
			remaining = strings.TrimLeft(remaining, " \t\n\r")
		}
		if text != "" {
			segments = append(segments, segment{kind: segText, content: text})
		}
		segments = append(segments, segment{kind: kind, content: strings.TrimSpace(inner)})
	}
}

type parser struct {
	segments []segment
	pos      int
}

func parse(source string) (*template, error) {
	p := &parser{segments: lex(source)}
	nodes, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if terminator != "" {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板存在未配对的 "+terminator)
	}
	return &template{nodes: nodes}, nil
}

// parseNodes 解析至块终结标记（endif/else/endfor）或模板结束
func (p *parser) parseNodes() ([]node, string, error) {
	var nodes []node
	for p.pos < len(p.segments) {
		seg := p.segments[p.pos]
		p.pos++
		switch seg.kind {
		case segText:
			nodes = append(nodes, &textNode{text: seg.content})
		case segOutput:
			parsed, err := parseExpr(seg.content)
			if err != nil {
				return nil, "", err
			}
			nodes = append(nodes, &outputNode{expr: parsed})
		case segControl:
			fields := strings.Fields(seg.content)
			if len(fields) == 0 {
				return nil, "", pkgErrors.New(pkgErrors.CodeValidationError, "模板存在空控制块")
			}
			switch fields[0] {
			case "endif", "endfor", "else":
				return nodes, fields[0], nil
			case "if":
				child, err := p.parseIf(strings.TrimSpace(seg.content[2:]))
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, child)
			case "for":
				child, err := p.parseFor(fields)
				if err != nil {
					return nil, "", err
				}
				nodes = append(nodes, child)
			default:
				return nil, "", pkgErrors.New(pkgErrors.CodeValidationError, "模板不支持控制块 "+fields[0])
			}
		}
	}
	return nodes, "", nil
}

func (p *parser) parseIf(condSource string) (node, error) {
	cond, err := parseExpr(condSource)
	if err != nil {
		return nil, err
	}
	body, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	n := &ifNode{cond: cond, body: body}
	if terminator == "else" {
		elseBody, elseTerm, err := p.parseNodes()
		if err != nil {
			return nil, err
		}
		if elseTerm != "endif" {
			return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板 if 块未以 endif 结束")
		}
		n.elseBody = elseBody
	} else if terminator != "endif" {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板 if 块未以 endif 结束")
	}
	return n, nil
}

func (p *parser) parseFor(fields []string) (node, error) {
	// 形如 for x in items
	if len(fields) != 4 || fields[2] != "in" {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板 for 块语法错误")
	}
	collection, err := parseExpr(fields[3])
	if err != nil {
		return nil, err
	}
	body, terminator, err := p.parseNodes()
	if err != nil {
		return nil, err
	}
	if terminator != "endfor" {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板 for 块未以 endfor 结束")
	}
	return &forNode{varName: fields[1], collection: collection, body: body}, nil
}

// === 表达式 ===

type expr interface {
	eval(sc *scope) (interface{}, error)
}

type literalExpr struct {
	value interface{}
}

func (e *literalExpr) eval(_ *scope) (interface{}, error) { return e.value, nil }

type pathExpr struct {
	parts []string
}

func (e *pathExpr) eval(sc *scope) (interface{}, error) {
	value, ok := sc.lookup(e.parts[0])
	if !ok {
		return nil, nil
	}
	for _, part := range e.parts[1:] {
		value = access(value, part)
		if value == nil {
			return nil, nil
		}
	}
	return value, nil
}

type defaultExpr struct {
	value    expr
	fallback expr
	// onFalsy 为真时空串/零值也取缺省值，对应 default(x, true) 的布尔参数
	onFalsy expr
}

func (e *defaultExpr) eval(sc *scope) (interface{}, error) {
	value, err := e.value.eval(sc)
	if err != nil {
		return nil, err
	}
	useFallback := value == nil
	if !useFallback && e.onFalsy != nil {
		flag, err := e.onFalsy.eval(sc)
		if err != nil {
			return nil, err
		}
		useFallback = truthy(flag) && !truthy(value)
	}
	if useFallback {
		return e.fallback.eval(sc)
	}
	return value, nil
}

type notExpr struct {
	inner expr
}

func (e *notExpr) eval(sc *scope) (interface{}, error) {
	value, err := e.inner.eval(sc)
	if err != nil {
		return nil, err
	}
	return !truthy(value), nil
}

type compareExpr struct {
	left, right expr
	negate      bool
}

func (e *compareExpr) eval(sc *scope) (interface{}, error) {
	left, err := e.left.eval(sc)
	if err != nil {
		return nil, err
	}
	right, err := e.right.eval(sc)
	if err != nil {
		return nil, err
	}
	equal := formatValue(left) == formatValue(right)
	return equal != e.negate, nil
}

// parseExpr 解析受限表达式：路径取值、字面量、default 过滤器、not 与相等比较
func parseExpr(source string) (expr, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板存在空表达式")
	}

	if strings.HasPrefix(source, "not ") {
		inner, err := parseExpr(source[4:])
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	}

	if op := findTopLevel(source, "=="); op >= 0 {
		return parseCompare(source[:op], source[op+2:], false)
	}
	if op := findTopLevel(source, "!="); op >= 0 {
		return parseCompare(source[:op], source[op+2:], true)
	}

	// 管道写法 value | default(x) 或 value | default(x, true)
	if pipe := findTopLevel(source, "|"); pipe >= 0 {
		left, err := parseExpr(source[:pipe])
		if err != nil {
			return nil, err
		}
		right := strings.TrimSpace(source[pipe+1:])
		if !strings.HasPrefix(right, "default(") || !strings.HasSuffix(right, ")") {
			return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板仅支持 default 过滤器")
		}
		args, err := parseArgs(right[len("default(") : len(right)-1])
		if err != nil {
			return nil, err
		}
		if len(args) < 1 || len(args) > 2 {
			return nil, pkgErrors.New(pkgErrors.CodeValidationError, "default 参数个数不合法")
		}
		parsed := &defaultExpr{value: left, fallback: args[0]}
		if len(args) == 2 {
			parsed.onFalsy = args[1]
		}
		return parsed, nil
	}

	// 函数写法 default(value, x) 或 default(value, x, true)
	if strings.HasPrefix(source, "default(") && strings.HasSuffix(source, ")") {
		args, err := parseArgs(source[len("default(") : len(source)-1])
		if err != nil {
			return nil, err
		}
		if len(args) < 2 || len(args) > 3 {
			return nil, pkgErrors.New(pkgErrors.CodeValidationError, "default 参数个数不合法")
		}
		parsed := &defaultExpr{value: args[0], fallback: args[1]}
		if len(args) == 3 {
			parsed.onFalsy = args[2]
		}
		return parsed, nil
	}

	return parsePrimary(source)
}

// parseArgs 按顶层逗号切分参数列表
func parseArgs(source string) ([]expr, error) {
	var args []expr
	remaining := source
	for {
		comma := findTopLevel(remaining, ",")
		if comma < 0 {
			break
		}
		arg, err := parseExpr(remaining[:comma])
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		remaining = remaining[comma+1:]
	}
	if strings.TrimSpace(remaining) != "" {
		arg, err := parseExpr(remaining)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func parseCompare(left, right string, negate bool) (expr, error) {
	leftExpr, err := parseExpr(left)
	if err != nil {
		return nil, err
	}
	rightExpr, err := parseExpr(right)
	if err != nil {
		return nil, err
	}
	return &compareExpr{left: leftExpr, right: rightExpr, negate: negate}, nil
}

func parsePrimary(source string) (expr, error) {
	source = strings.TrimSpace(source)
	switch source {
	case "true", "True":
		return &literalExpr{value: true}, nil
	case "false", "False":
		return &literalExpr{value: false}, nil
	}
	if len(source) >= 2 {
		if (source[0] == '"' && source[len(source)-1] == '"') ||
			(source[0] == '\'' && source[len(source)-1] == '\'') {
			return &literalExpr{value: source[1 : len(source)-1]}, nil
		}
	}
	if number, err := strconv.ParseInt(source, 10, 64); err == nil {
		return &literalExpr{value: number}, nil
	}
	if number, err := strconv.ParseFloat(source, 64); err == nil {
		return &literalExpr{value: number}, nil
	}

	parts := strings.Split(source, ".")
	for _, part := range parts {
		if !isIdent(part) {
			return nil, pkgErrors.New(pkgErrors.CodeValidationError, "模板表达式不合法: "+source)
		}
	}
	return &pathExpr{parts: parts}, nil
}

// findTopLevel 在引号与括号外查找操作符
func findTopLevel(source, op string) int {
	depth := 0
	var quote byte
	for i := 0; i+len(op) <= len(source); i++ {
		ch := source[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'':
			quote = ch
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && source[i:i+len(op)] == op {
				return i
			}
		}
	}
	return -1
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, ch := range s {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch == '_':
		case ch >= '0' && ch <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// === 取值与格式化 ===

func access(value interface{}, key string) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		return typed[key]
	case []interface{}:
		index, err := strconv.Atoi(key)
		if err != nil || index < 0 || index >= len(typed) {
			return nil
		}
		return typed[index]
	}
	return nil
}

func truthy(value interface{}) bool {
	switch typed := value.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != ""
	case int:
		return typed != 0
	case int64:
		return typed != 0
	case float64:
		return typed != 0
	case map[string]interface{}:
		return len(typed) > 0
	case []interface{}:
		return len(typed) > 0
	}
	return true
}

func toList(value interface{}) []interface{} {
	switch typed := value.(type) {
	case []interface{}:
		return typed
	case []string:
		items := make([]interface{}, len(typed))
		for i, s := range typed {
			items[i] = s
		}
		return items
	case nil:
		return nil
	}
	return nil
}

func formatValue(value interface{}) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		// 整数值的浮点不输出小数部分，保证渲染确定性
		if typed == float64(int64(typed)) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'g', -1, 64)
	}
	return fmt.Sprintf("%v", value)
}
