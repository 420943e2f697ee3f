package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/dayuer/tourguide-go/internal/providers"
)

// Tool names the facade selects between.
const (
	VoiceInteraction    = "voice_interaction"
	ObjectRecognition   = "object_recognition"
	GetShoppingInfo     = "get_shopping_info"
	GetRelatedKnowledge = "get_related_knowledge"
	GetMap              = "get_map"
)

// DefaultCoordinates is the village centre used for shopping lookups and as
// the map fallback.
const DefaultCoordinates = "118.205,25.235"

const amapStaticURL = "https://restapi.amap.com/v3/staticmap"

// VoiceResponse is the result of voice_interaction.
type VoiceResponse struct {
	Text            string `json:"text"`
	AudioBase64     string `json:"audio_base_64"`
	NeedManualInput bool   `json:"need_manual_input,omitempty"`
}

// RecognitionResponse is the result of object_recognition.
type RecognitionResponse struct {
	Explanation   string `json:"explanation"`
	AudioBase64   string `json:"audio_base_64"`
	MemorialImage string `json:"memorial_image,omitempty"`
}

// Business is a shop or restaurant near the visitor.
type Business struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Coord    string `json:"coord"`
	Address  string `json:"address"`
	Distance string `json:"distance"`
}

// Product is a local speciality.
type Product struct {
	Name     string `json:"name"`
	Feature  string `json:"feature"`
	Spec     string `json:"spec"`
	Price    string `json:"price"`
	Business string `json:"business"`
}

// ShoppingInfo is the result of get_shopping_info.
type ShoppingInfo struct {
	Businesses    []Business `json:"businesses"`
	Products      []Product  `json:"products"`
	RecommendText string     `json:"recommend_text"`
}

// KnowledgeResponse is the result of get_related_knowledge.
type KnowledgeResponse struct {
	Text   string   `json:"text"`
	Topics []string `json:"topics,omitempty"`
}

// MapImage is the result of get_map.
type MapImage struct {
	URL      string `json:"url"`
	Location string `json:"location"`
}

// Guide builds the tour-guide tools on top of an OpenAI-compatible model.
type Guide struct {
	LLM         providers.LLMProvider
	Model       string
	VisionModel string

	MapKey  string
	MapZoom int
	MapSize string

	// Spots maps spot names to "lng,lat" coordinates.
	Spots         map[string]string
	DefaultCoords string
}

// DefaultSpots holds the coordinates of the village's main spots.
var DefaultSpots = map[string]string{
	"东里村":       DefaultCoordinates,
	"永春辛亥革命纪念馆": "118.20524049,25.23411225",
	"旌义状石碑":     "118.20423698,25.23566419",
	"古炮楼":       "118.206120,25.236500",
	"集庆廊桥":      "118.203500,25.233800",
	"洋杆尾古民居":    "118.207000,25.234500",
	"昭灵宫":       "118.205000,25.235000",
}

// Tools returns the five guide tools.
func (g *Guide) Tools() []Tool {
	spot := Param{Name: "spot", Type: "string", Description: "current spot name"}
	return []Tool{
		&Func{
			ToolName: VoiceInteraction,
			Desc:     "Answer a visitor's spoken or typed question about the current spot.",
			Params:   []Param{spot, {Name: "text", Type: "string", Description: "visitor utterance", Optional: true}},
			Fn:       g.voice,
		},
		&Func{
			ToolName: ObjectRecognition,
			Desc:     "Explain what the visitor photographed at the current spot.",
			Params:   []Param{spot, {Name: "image", Type: "string", Description: "photo URL or data URI", Optional: true}},
			Fn:       g.recognize,
		},
		&Func{
			ToolName: GetShoppingInfo,
			Desc:     "List nearby shops and local specialities.",
			Params:   []Param{{Name: "coords", Type: "string", Description: "lng,lat"}, {Name: "spot", Type: "string", Optional: true}},
			Fn:       g.shopping,
		},
		&Func{
			ToolName: GetRelatedKnowledge,
			Desc:     "Tell the history and stories behind the current spot.",
			Params:   []Param{spot},
			Fn:       g.knowledge,
		},
		&Func{
			ToolName: GetMap,
			Desc:     "Return a static map image URL centred on a spot or coordinates.",
			Params:   []Param{{Name: "location", Type: "string", Description: "spot name or lng,lat"}},
			Fn:       g.staticMap,
		},
	}
}

const guidePersona = "你是东里村的智能导游，语气亲切，回答简洁，控制在150字以内。"

func (g *Guide) voice(ctx context.Context, args []any) (any, error) {
	spot, text, err := twoStrings(args, "spot", "text")
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return VoiceResponse{Text: "没有听清，请再说一遍或手动输入。", NeedManualInput: true}, nil
	}
	answer, err := g.chat(ctx, g.Model, guidePersona, fmt.Sprintf("游客位于「%s」，提问：%s", spot, text))
	if err != nil {
		return nil, err
	}
	return VoiceResponse{Text: answer}, nil
}

func (g *Guide) recognize(ctx context.Context, args []any) (any, error) {
	spot, image, err := twoStrings(args, "spot", "image")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("游客在「%s」拍了一张照片，请讲解照片中可能出现的景物及其来历。", spot)
	if image != "" {
		prompt += "\n照片：" + image
	}
	model := g.VisionModel
	if model == "" {
		model = g.Model
	}
	answer, err := g.chat(ctx, model, guidePersona, prompt)
	if err != nil {
		return nil, err
	}
	return RecognitionResponse{Explanation: answer}, nil
}

const shoppingPrompt = `游客位于「%s」(坐标 %s)，想购买特产或就餐。
严格返回 JSON：{"businesses":[{"name":"","type":"","coord":"","address":"","distance":""}],"products":[{"name":"","feature":"","spec":"","price":"","business":""}],"recommend_text":""}`

func (g *Guide) shopping(ctx context.Context, args []any) (any, error) {
	coords, spot, err := twoStrings(args, "coords", "spot")
	if err != nil {
		return nil, err
	}
	if coords == "" {
		coords = g.defaultCoords()
	}
	raw, err := g.chat(ctx, g.Model, guidePersona, fmt.Sprintf(shoppingPrompt, spot, coords))
	if err != nil {
		return nil, err
	}
	var info ShoppingInfo
	if err := json.Unmarshal([]byte(cleanJSON(raw)), &info); err != nil {
		return ShoppingInfo{Businesses: []Business{}, Products: []Product{}, RecommendText: raw}, nil
	}
	if info.Businesses == nil {
		info.Businesses = []Business{}
	}
	if info.Products == nil {
		info.Products = []Product{}
	}
	return info, nil
}

func (g *Guide) knowledge(ctx context.Context, args []any) (any, error) {
	spot, _, err := twoStrings(args, "spot", "")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf("请讲述「%s」的历史背景和相关故事。最后一行以「话题：」开头列出2到4个关键词，用顿号分隔。", spot)
	answer, err := g.chat(ctx, g.Model, guidePersona, prompt)
	if err != nil {
		return nil, err
	}
	return splitTopics(answer), nil
}

func (g *Guide) staticMap(_ context.Context, args []any) (any, error) {
	location, _, err := twoStrings(args, "location", "")
	if err != nil {
		return nil, err
	}
	coords := g.resolveCoords(location)
	q := url.Values{}
	q.Set("location", coords)
	q.Set("zoom", strconv.Itoa(g.zoom()))
	q.Set("size", g.size())
	q.Set("markers", "mid,,A:"+coords)
	if g.MapKey != "" {
		q.Set("key", g.MapKey)
	}
	return MapImage{URL: amapStaticURL + "?" + q.Encode(), Location: coords}, nil
}

var coordPattern = regexp.MustCompile(`^-?\d+(\.\d+)?,-?\d+(\.\d+)?$`)

func (g *Guide) resolveCoords(location string) string {
	location = strings.TrimSpace(location)
	if coordPattern.MatchString(location) {
		return location
	}
	spots := g.Spots
	if spots == nil {
		spots = DefaultSpots
	}
	if c, ok := spots[location]; ok {
		return c
	}
	return g.defaultCoords()
}

func (g *Guide) defaultCoords() string {
	if g.DefaultCoords != "" {
		return g.DefaultCoords
	}
	return DefaultCoordinates
}

func (g *Guide) zoom() int {
	if g.MapZoom > 0 {
		return g.MapZoom
	}
	return 16
}

func (g *Guide) size() string {
	if g.MapSize != "" {
		return g.MapSize
	}
	return "750*500"
}

// chat sends one system+user exchange and returns the cleaned answer.
// Provider-level failures reported through FinishReason become errors.
func (g *Guide) chat(ctx context.Context, model, system, user string) (string, error) {
	if g.LLM == nil {
		return "", errors.New("no LLM provider configured")
	}
	resp, err := g.LLM.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Model:       model,
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Content == nil {
		return "", errors.New("empty response")
	}
	if resp.FinishReason == "error" {
		return "", errors.New(*resp.Content)
	}
	answer := strings.TrimSpace(stripThinking(*resp.Content))
	if answer == "" {
		return "", errors.New("empty response")
	}
	return answer, nil
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinking removes reasoning blocks emitted by R1-style models.
func stripThinking(s string) string {
	return thinkBlock.ReplaceAllString(s, "")
}

// cleanJSON strips a markdown code fence around a JSON answer.
func cleanJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		lines := strings.SplitN(raw, "\n", 2)
		if len(lines) > 1 {
			raw = lines[1]
		}
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = strings.TrimSpace(raw[:idx])
		}
	}
	return raw
}

func splitTopics(answer string) KnowledgeResponse {
	lines := strings.Split(answer, "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	for _, prefix := range []string{"话题：", "话题:"} {
		if rest, ok := strings.CutPrefix(last, prefix); ok {
			var topics []string
			for _, t := range strings.FieldsFunc(rest, func(r rune) bool { return r == '、' || r == ',' || r == '，' }) {
				if t = strings.TrimSpace(t); t != "" {
					topics = append(topics, t)
				}
			}
			text := strings.TrimSpace(strings.Join(lines[:len(lines)-1], "\n"))
			return KnowledgeResponse{Text: text, Topics: topics}
		}
	}
	return KnowledgeResponse{Text: answer}
}

// twoStrings reads the first required string argument and an optional
// second one. An empty second name means the tool takes one argument.
func twoStrings(args []any, first, second string) (string, string, error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("missing argument %s", first)
	}
	a, err := stringArg(args, 0, first)
	if err != nil {
		return "", "", err
	}
	if second == "" {
		return a, "", nil
	}
	b, err := stringArg(args, 1, second)
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}
