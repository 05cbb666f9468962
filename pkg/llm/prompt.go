package llm

import "strings"

const idocSystemPrompt = `You are an expert SAP consultant analyzing an IDOC (Intermediate Document).
Provide a detailed analysis including:
1. Document type and purpose
2. Key data fields and their meanings
3. Business process context
4. Potential issues or recommendations
5. Integration points and dependencies

Make your response clear and actionable for SAP professionals.`

const documentSystemPrompt = `You are an expert SAP consultant analyzing a document.
Provide a comprehensive analysis including:
1. Document type and content overview
2. Key information extracted
3. SAP-related processes or modules involved
4. Recommendations and next steps
5. Potential integration opportunities

Focus on SAP-relevant insights and actionable recommendations.`

// IsIDOC 判断文档是否为 SAP IDOC：文件名包含 idoc（不区分大小写）或正文包含 IDOC。
func IsIDOC(fileName, content string) bool {
	return strings.Contains(strings.ToLower(fileName), "idoc") || strings.Contains(content, "IDOC")
}

// BuildAnalysisMessages 构造文档分析的 system + user 消息。
func BuildAnalysisMessages(fileName, content string) []Message {
	system, kind := documentSystemPrompt, "document"
	if IsIDOC(fileName, content) {
		system, kind = idocSystemPrompt, "SAP IDOC"
	}
	return []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: "Please analyze this " + kind + ":\n\n" + content},
	}
}
