// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
Package testutil 提供 PromptFlow 测试的共享工具和辅助函数。

# 核心能力

  - 异步断言: AssertEventuallyTrue / WaitFor / WaitForChannel

# 子包

  - testutil/mocks: MockProvider，支持固定回复、分块流式输出、
    分块延迟、流末错误块与第 N 次调用后失败
  - testutil/fixtures: 预置模块（QAModule、MathModule）、完整回复样例、
    SplitChunks 分块工具

# 使用示例

	provider := mocks.NewStreamProvider(fixtures.SplitChunks(fixtures.QAReply, 3))
	stream, err := predictor.PredictStream(context.Background(), fixtures.QAModule(), inputs, predict.Options{})
*/
package testutil
