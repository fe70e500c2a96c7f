package vision

import (
	"fmt"
	"strings"
)

const defaultPromptTemplate = `
你是一个专业的应用题识别和分析专家。请仔细分析这张图片中的应用题内容。

**关键要求：**
1. 必须用中文回答
2. 必须严格按照JSON格式返回结果
3. 不要添加任何markdown代码块标记
4. 不要添加任何解释文字
5. 直接返回纯JSON格式

分析要求：
1. 识别图片中的所有应用题，按顺序编号
2. 完整提取每道题的题目内容
3. 如果图片中包含答案，请提取答案
4. 如果有解题过程或解析，请提取解析
5. 分析每道题涉及的知识点
6. 评估题目难度（easy/medium/hard）
7. 给出识别置信度（0-1之间的小数）

**输出格式示例（必须严格遵循）：**
{
  "questions": [
    {
      "id": 1,
      "content": "题目内容",
      "answer": "答案（如果有）",
      "explanation": "解析（如果有）",
      "knowledge_points": ["考点1", "考点2"],
      "difficulty": "medium",
      "confidence": 0.95,
      "source": "%s"
    }
  ]
}

注意：
- 如果图片中没有应用题，返回：{"questions": []}
- 如果某些信息不确定，可以设置为空字符串
- 必须返回有效的JSON格式
- 必须用中文描述题目内容和解析
`

// PromptOptions tweaks the default prompt.
type PromptOptions struct {
	ExtractAnswers         bool
	ExtractKnowledgePoints bool
}

// BuildPrompt returns the custom prompt when set, otherwise the default
// extraction prompt naming filename as the source.
func BuildPrompt(filename, custom string, opts PromptOptions) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}

	prompt := fmt.Sprintf(defaultPromptTemplate, filename)
	var skip []string
	if !opts.ExtractAnswers {
		skip = append(skip, "- 不需要提取答案和解析，answer 和 explanation 设置为空字符串")
	}
	if !opts.ExtractKnowledgePoints {
		skip = append(skip, "- 不需要分析知识点，knowledge_points 设置为空数组")
	}
	if len(skip) > 0 {
		prompt += strings.Join(skip, "\n") + "\n"
	}
	return prompt
}
