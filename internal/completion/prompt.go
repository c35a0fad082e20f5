package completion

import "strings"

// promptTemplate instructs the model to answer strictly from the supplied
// context and to cite article numbers exactly. {context} and {query} are
// substituted by BuildPrompt.
const promptTemplate = "Bạn là chuyên gia rất am hiểu về Luật BHYT. " +
	"Dựa trên Ngữ cảnh được cung cấp bên dưới, trả lời câu hỏi một cách thật chính xác và ngắn gọn. " +
	"BẮT BUỘC phải trích dẫn điều luật chính xác nếu có trong ngữ cảnh " +
	"(Không được sai sót về số điều luật).\n\n" +
	"Ngữ cảnh:\n{context}\n\n" +
	"Câu hỏi: {query}"

// BuildPrompt renders the answer prompt for a query and its retrieved
// context. The query is inserted as typed, without normalisation.
func BuildPrompt(context, query string) string {
	r := strings.NewReplacer("{context}", context, "{query}", query)
	return r.Replace(promptTemplate)
}
