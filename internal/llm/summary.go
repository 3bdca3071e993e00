package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	summarySystemPrompt = `Your job is to summarize a history of previous messages in a conversation between an AI persona and a human.
The conversation you are given is from a fixed context window and may not be complete.
Summarize what happened in the conversation from the perspective of the AI (use the first person).
Keep the summary concise and include only the facts that matter later.`
	summaryRequestAck = "Understood, I will respond with a summary of the message (and only the summary, nothing else) once I receive the conversation history. I'm ready."
)

// SummaryModel 用模型把对话转写压缩为摘要。
type SummaryModel struct {
	client Client
	model  ModelConfig
}

func NewSummaryModel(client Client, model ModelConfig) *SummaryModel {
	return &SummaryModel{client: client, model: model}
}

func (s *SummaryModel) Summarize(ctx context.Context, transcript string) (string, error) {
	if strings.TrimSpace(transcript) == "" {
		return "", nil
	}
	resp, err := s.client.Complete(ctx, Request{
		Messages: []*schema.Message{
			schema.SystemMessage(summarySystemPrompt),
			schema.AssistantMessage(summaryRequestAck, nil),
			schema.UserMessage(transcript),
		},
		ToolChoice: ToolChoiceNone,
		Model:      s.model,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Message == nil {
		return "", errors.New("empty summary response")
	}
	return strings.TrimSpace(resp.Message.Content), nil
}
