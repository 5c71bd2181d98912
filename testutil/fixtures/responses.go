// Package fixtures holds canned modules, replies and transport payloads
// shared by tests.
package fixtures

import (
	"github.com/BaSui01/promptflow/signature"
)

// =============================================================================
// 📐 模块样例
// =============================================================================

// QAModule 返回问答模块：question → answer, correct(bool)
func QAModule() signature.Module {
	return signature.Module{
		Inputs: []signature.Field{
			{Name: "question", Type: signature.TypeString, Description: "The question to answer", Required: true},
		},
		Outputs: []signature.Field{
			{Name: "answer", Type: signature.TypeString, Description: "A short answer", Required: true},
			{Name: "correct", Type: signature.TypeBool, Description: "Whether the answer is certain", Required: true},
		},
		Instructions: "Answer the question.",
	}
}

// MathModule 返回带数值输出的模块：expression → result(int), ratio(float)
func MathModule() signature.Module {
	return signature.Module{
		Inputs: []signature.Field{
			{Name: "expression", Type: signature.TypeString, Description: "An arithmetic expression", Required: true},
		},
		Outputs: []signature.Field{
			{Name: "result", Type: signature.TypeInt, Description: "The integer result", Required: true},
			{Name: "ratio", Type: signature.TypeFloat, Description: "Result divided by ten", Required: false},
		},
	}
}

// QAReply 是 QAModule 的一条完整回复
const QAReply = "[[ ## answer ## ]]\nParis\n\n[[ ## correct ## ]]\nTrue\n\n[[ ## completed ## ]]\n"

// =============================================================================
// 📨 流式分块
// =============================================================================

// SplitChunks cuts text into pieces of at most size bytes, never inside a
// UTF-8 sequence.
func SplitChunks(text string, size int) []string {
	if size <= 0 {
		size = 1
	}
	var out []string
	for len(text) > 0 {
		n := size
		if n > len(text) {
			n = len(text)
		}
		for n < len(text) && !utf8Start(text[n]) {
			n++
		}
		out = append(out, text[:n])
		text = text[n:]
	}
	return out
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }
