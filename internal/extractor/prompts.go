package extractor

const systemPrompt = `You are a senior HR-minded interpreter. Translate technical daily/weekly/monthly reports into language a non-technical HR reader can understand, highlighting value, risks, dependencies and next actions. Output strictly JSON.`

const userPromptTemplate = `[Report text]
%s

[Author] %s (%s)
[Period] %s %s~%s

[Author's OKRs (brief)]
%s

Respond with a JSON object:
{
  "hr_summary": "plain-language summary, at most 200 characters",
  "risks": [{"item":"", "likelihood":"low|medium|high", "mitigation":""}],
  "needs": [{"topic":"", "owner":""}],
  "okr_alignment": {
    "hit_objectives": ["O1","O2"],
    "hit_krs": ["KR1","KR2"],
    "gaps": ["KRs not covered or behind"],
    "confidence": 0.0
  },
  "next_actions": ["actionable next step 1","next step 2"],
  "risk_level": "low|medium|high"
}
Constraints: no jargon; if the report never mentions OKRs, still infer the most likely O/KR from the text and mark low confidence.`

const retryHintFormat = "\n\nNote: the previous output failed JSON validation. You must return a valid JSON object. Error: %s"
