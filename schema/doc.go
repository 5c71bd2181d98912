// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
# 概述

包 schema 提供结构化 Schema 的建模、反射生成与校验能力，
是 signature 包将 Schema 声明归一化为字段列表、以及 predict 包
校验输入/输出映射时所依赖的 Schema 引擎。

# 主要类型

  - JSONSchema：JSON Schema 子集，记录 properties 的声明顺序
  - SchemaGenerator：通过反射从 Go struct 生成 JSONSchema（desc / jsonschema 标签）
  - DefaultValidator：内置校验器，提供 Validate / Check / Explain
  - ParseError / ValidationErrors：带字段路径的校验诊断

# 典型用法

	s := schema.NewObjectSchema().
		AddProperty("answer", schema.NewStringSchema().WithDescription("final answer")).
		AddRequired("answer")

	value := map[string]any{"answer": "4"}
	v := schema.NewValidator()
	if !v.Check(s, value) {
		diags := v.Explain(s, value)
		...
	}
*/
package schema
