package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "ArcadeAgent/internal/errors"
	"ArcadeAgent/internal/game"
	"ArcadeAgent/internal/llm"
	"ArcadeAgent/internal/web3"
	"ArcadeAgent/pkg/logger"
)

const (
	// ToolName 是暴露给大模型的游戏工具名称。
	ToolName = "rock_paper_scissors_blink"
	// ImageURL 作为游戏结果的首行一并投递。
	ImageURL = "https://raw.githubusercontent.com/The-x-35/rps-solana-blinks/refs/heads/main/public/1.jpeg"

	defaultMemoryDepth = 10
	defaultMaxSteps    = 4
	defaultTemperature = 0.7
)

const systemPrompt = `You are a helpful Send Arcade agent that can play rock paper scissors onchain for the user.
The user's game wallet is %s. If the wallet needs funds, ask the user to send SOL to it.
If there is a 5XX (internal) HTTP error, ask the user to try again later.
If someone asks for something your tools cannot do, say so.
Be concise and helpful. Do not restate your tool descriptions unless asked.`

// GamePlayer 运行一局游戏。
type GamePlayer interface {
	Play(ctx context.Context, userID string, player web3.Signer, rawChoice string, amount decimal.Decimal) (*game.Outcome, error)
}

// Player 是当前回合的玩家身份。
type Player struct {
	UserID    string
	PublicKey string
	Signer    web3.Signer
}

// Agent 将一条用户消息转换为若干条回复。
type Agent struct {
	llmClient   llm.Client
	game        GamePlayer
	history     *History
	maxSteps    int
	temperature float64
	llmTimeout  time.Duration
	logger      *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithMemoryDepth 设置每个用户保留的历史消息条数。
func WithMemoryDepth(depth int) Option {
	return func(a *Agent) {
		if depth > 0 {
			a.history = NewHistory(depth)
		}
	}
}

// WithLLMTimeout 设置单次调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// WithTemperature 设置采样温度。
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxSteps 限制单个回合内模型与工具往返的次数。
func WithMaxSteps(steps int) Option {
	return func(a *Agent) {
		if steps > 0 {
			a.maxSteps = steps
		}
	}
}

// New 创建一个 Agent。llmClient 为空时只支持显式命令。
func New(llmClient llm.Client, player GamePlayer, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:   llmClient,
		game:        player,
		history:     NewHistory(defaultMemoryDepth),
		maxSteps:    defaultMaxSteps,
		temperature: defaultTemperature,
		logger:      logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// Respond 计算一个回合的回复列表，按顺序投递。
func (a *Agent) Respond(ctx context.Context, player Player, text string) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}

	// 显式命令不经过大模型。
	if cmd, args, ok := parseCommand(text); ok {
		return a.runCommand(ctx, player, cmd, args)
	}

	if a.llmClient == nil {
		return []string{helpText(player)}, nil
	}
	return a.converse(ctx, player, text)
}

func (a *Agent) runCommand(ctx context.Context, player Player, cmd string, args []string) ([]string, error) {
	switch cmd {
	case "start", "help":
		return []string{helpText(player)}, nil
	case "wallet":
		return []string{player.PublicKey}, nil
	case "reset":
		a.history.Reset(player.UserID)
		return []string{"Conversation cleared."}, nil
	case "play":
		if len(args) != 2 {
			return nil, xerrors.New(xerrors.CodeInvalidMove, "usage: /play <rock|paper|scissors> <amount>")
		}
		amount, err := decimal.NewFromString(args[1])
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidMove, err, "amount is not a number")
		}
		reply, err := a.play(ctx, player, args[0], amount)
		if err != nil {
			return nil, err
		}
		return []string{reply}, nil
	default:
		return []string{helpText(player)}, nil
	}
}

func (a *Agent) converse(ctx context.Context, player Player, text string) ([]string, error) {
	// 组装系统提示、历史与本轮消息。
	userMsg := llm.Message{Role: llm.RoleUser, Content: text}
	messages := []llm.Message{{Role: llm.RoleSystem, Content: fmt.Sprintf(systemPrompt, player.PublicKey)}}
	messages = append(messages, a.history.Load(player.UserID)...)
	messages = append(messages, userMsg)

	var replies []string
	for step := 0; step < a.maxSteps; step++ {
		resp, err := a.chat(ctx, messages)
		if err != nil {
			return replies, err
		}
		msg := resp.Message

		if len(msg.ToolCalls) == 0 {
			replies = append(replies, msg.Content)
			a.history.Append(player.UserID, userMsg, llm.Message{Role: llm.RoleAssistant, Content: msg.Content})
			return replies, nil
		}

		// 执行工具调用，工具输出同样投递给用户。
		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			output, err := a.invokeTool(ctx, player, call)
			if err != nil {
				return replies, err
			}
			replies = append(replies, output)
			messages = append(messages, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: output})
		}
	}

	a.logger.Warn("工具调用次数超过上限", slog.String("user_id", player.UserID), slog.Int("max_steps", a.maxSteps))
	a.history.Append(player.UserID, userMsg)
	return replies, nil
}

func (a *Agent) chat(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}

	resp, err := a.llmClient.Chat(llmCtx, llm.Request{
		Messages:    messages,
		Tools:       []llm.Tool{gameTool},
		Temperature: a.temperature,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(err, context.Canceled) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型推理失败")
	}
	return resp, nil
}

type toolArguments struct {
	Choice string          `json:"choice"`
	Amount decimal.Decimal `json:"amount"`
}

var gameTool = llm.Tool{
	Name:        ToolName,
	Description: "Gamble while playing rock paper scissors. choice is rock, paper or scissors; amount is the SOL wager, one of 0.1, 0.01 or 0.005.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"choice": map[string]any{"type": "string", "enum": []string{"rock", "paper", "scissors"}},
			"amount": map[string]any{"type": "number", "description": "amount of SOL to play with"},
		},
		"required": []string{"choice", "amount"},
	},
}

// invokeTool 执行模型请求的工具。可展示的失败作为工具输出返回给模型，
// 回合被取消时返回错误。
func (a *Agent) invokeTool(ctx context.Context, player Player, call llm.ToolCall) (string, error) {
	if call.Name != ToolName {
		return fmt.Sprintf("unknown tool %q", call.Name), nil
	}
	var args toolArguments
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return xerrors.UserMessageOf(xerrors.Wrap(xerrors.CodeInvalidMove, err, "bad tool arguments")), nil
	}

	reply, err := a.play(ctx, player, args.Choice, args.Amount)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		a.logger.Warn("游戏工具执行失败",
			slog.String("user_id", player.UserID),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.Any("error", err))
		return xerrors.UserMessageOf(err), nil
	}
	return reply, nil
}

// play 运行一局游戏并返回带图片链接的结果文本。
func (a *Agent) play(ctx context.Context, player Player, choice string, amount decimal.Decimal) (string, error) {
	if a.game == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置游戏服务")
	}
	outcome, err := a.game.Play(ctx, player.UserID, player.Signer, choice, amount)
	if outcome != nil {
		// 已有确定结果的失败局同样把结果文本交给用户。
		return ImageURL + "\n" + outcome.Message, nil
	}
	return "", err
}

func parseCommand(text string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(fields[0])
	// Telegram 群聊中的命令形如 /play@bot_name。
	if idx := strings.IndexByte(cmd, '@'); idx >= 0 {
		cmd = cmd[:idx]
	}
	return cmd, fields[1:], true
}

func helpText(player Player) string {
	return "Welcome to Send Arcade! Fund your game wallet and start playing.\n" +
		"Your unique Solana wallet is: " + player.PublicKey + "\n" +
		"Play with /play <rock|paper|scissors> <amount>, amounts 0.1, 0.01 or 0.005 SOL, or just tell me your move."
}
