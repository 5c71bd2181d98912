// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 signature 实现结构化提示词协议的核心：以类型化字段描述单轮任务，
确定性地编译为分隔符提示词，并把模型回复（完整文本或流式增量）
解析回类型化的值。

# 线格式

每个字段块占两行：

	[[ ## answer ## ]]
	4

编译器总是在 ## 两侧各输出一个空格；解析器容忍 ## 周围任意水平空白。
标记必须独占一行，并在换行到达后才开启字段值。

# 主要类型

  - Field / FieldType：字段模型，类型限定为 string、int、float、bool
  - Module / Normalized：模块声明与归一化结果，显式字段优先于 Schema
  - Scanner：单遍增量扫描器，记录标记行位置，适用于不断增长的缓冲区
  - Values：按声明顺序排列的输出映射，缺失字段为 nil
  - FileLoader：从 YAML/JSON 文件加载模块，支持 Schema 简写形式
  - ModuleWatcher：轮询模块文件，变更稳定后经 FileLoader 重新加载

# 类型转换

解析从不报错。bool 仅在文本忽略大小写等于 "true" 时为 true；
int、float 转换失败时保留原始字符串，便于调用方排查。

# 典型用法

	m := signature.Module{
		Inputs:  []signature.Field{signature.NewField("question", signature.TypeString, "the question")},
		Outputs: []signature.Field{signature.NewField("answer", signature.TypeString, "the answer")},
	}
	n := signature.Normalize(m)
	prompt := signature.Render(n, map[string]any{"question": "2+2?"})
	values := signature.Parse(reply, n.Outputs)
*/
package signature
