// Copyright 2026 PromptFlow Authors
// Use of this source code is governed by the project license.

/*
包 streaming 提供传输层与流式重组器之间的有界背压队列。

# 概述

模型服务以高频增量方式推送回复文本，而重组器每收到一段都要重新解析
整个缓冲区。BackpressureStream 把两者解耦：生产者（传输泵）写入
Chunk，消费者（重组器）按序读取；缓冲区到达高水位线时生产者被阻塞
或收到 ErrBufferFull。回复文本必须完整到达，因此队列从不丢弃数据。

# 主要类型

  - Chunk：一段回复文本及其序号。
  - BackpressureConfig：缓冲容量、高/低水位线与溢出策略。
  - BackpressureStream：单生产者/单消费者队列。生产者以 CloseWrite
    结束写入，消费者以 Close 提前退出，两者互不干扰。
  - StreamStats：produced/consumed/blocked 等运行统计。

# 典型用法

	q := streaming.NewBackpressureStream(streaming.DefaultBackpressureConfig())
	go func() {
	    defer q.CloseWrite()
	    for _, text := range parts {
	        if err := q.Write(ctx, streaming.Chunk{Text: text}); err != nil {
	            return
	        }
	    }
	}()
	for {
	    c, err := q.Read(ctx)
	    if errors.Is(err, streaming.ErrStreamClosed) {
	        break
	    }
	    handle(c)
	}
*/
package streaming
