package llm

// ModelInfo 描述一个可供前端选择的聊天模型。
type ModelInfo struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Provider    string `json:"provider"`
	APIModel    string `json:"api_model"`
	Description string `json:"description"`
}

// DefaultModels 是系统支持的模型清单。请求携带未知的 modelId 时返回 404。
var DefaultModels = []ModelInfo{
	{
		ID:          "gpt-4o-mini",
		Label:       "GPT 4o mini",
		Provider:    "openai",
		APIModel:    "gpt-4o-mini",
		Description: "日常 DeFi 问答的默认模型",
	},
	{
		ID:          "deepseek-chat",
		Label:       "DeepSeek Chat",
		Provider:    "deepseek",
		APIModel:    "deepseek-chat",
		Description: "兼容 OpenAI 协议的 DeepSeek 模型",
	},
	{
		ID:          "llama-3.3-70b",
		Label:       "Llama 3.3 70B",
		Provider:    "groq",
		APIModel:    "llama-3.3-70b-versatile",
		Description: "Groq 推理的 Llama 模型",
	},
}

// DefaultModelID 是未显式选择时使用的模型。
const DefaultModelID = "gpt-4o-mini"

// LookupModel 按 ID 查找模型，未找到时第二个返回值为 false。
func LookupModel(id string) (ModelInfo, bool) {
	for _, model := range DefaultModels {
		if model.ID == id {
			return model, true
		}
	}
	return ModelInfo{}, false
}
