package surface

import (
	"encoding/json"
	"fmt"
)

// Все скрипты возвращают объект: undefined не декодируется chromedp.

const fullBleedScript = `(() => {
  document.documentElement.style.overflow = 'hidden';
  const body = document.body;
  if (body) {
    body.style.margin = '0';
    body.style.padding = '0';
    body.style.width = '100vw';
    body.style.height = '100vh';
    body.style.overflow = 'hidden';
    body.style.boxSizing = 'border-box';
    body.style.background = 'white';
  }
  const shell = document.querySelector('.shell');
  if (shell) {
    shell.style.padding = '0';
    shell.style.margin = '0';
    shell.style.width = '100%';
    shell.style.height = '100%';
    shell.style.display = 'flex';
    shell.style.justifyContent = 'center';
    shell.style.alignItems = 'center';
    shell.style.boxSizing = 'border-box';
  }
  const panel = document.querySelector('.panel');
  if (panel) {
    panel.style.margin = '0';
    panel.style.padding = '0';
    panel.style.width = '100%';
    panel.style.height = '100%';
    panel.style.maxWidth = 'none';
    panel.style.borderRadius = '0';
    panel.style.boxShadow = 'none';
    panel.style.background = 'transparent';
  }
  const svg = document.querySelector('svg');
  if (svg) {
    svg.style.maxHeight = '';
    svg.style.maxWidth = '';
    svg.style.width = '100%';
    svg.style.height = '100%';
  }
  if (window.myChart && typeof window.myChart.resize === 'function') {
    window.myChart.resize();
  }
  return {ok: true};
})()`

const prepareTimelineScript = `(async () => {
  if (typeof window.prepareTimeline !== 'function' || typeof window.seekTo !== 'function') {
    return {ok: false, totalDuration: 0};
  }
  const info = await window.prepareTimeline();
  const total = Number(info && info.totalDuration) || 0;
  return {ok: total > 0, totalDuration: total};
})()`

const slowMotionScript = `(async () => {
  if (typeof window.startSlowMotionAnimation !== 'function') {
    return {ok: false, totalDuration: 0};
  }
  const info = await window.startSlowMotionAnimation(%s);
  return {ok: true, totalDuration: Number(info && info.totalDuration) || 0};
})()`

const seekScript = `(async () => {
  await window.seekTo(%s);
  return {ok: true};
})()`

const finishedScript = `(() => ({finished: window.animationFinished === true}))()`

const overlayScript = `((cfg) => {
  const old = document.getElementById('html2video-watermark');
  if (old) old.remove();
  const div = document.createElement('div');
  div.id = 'html2video-watermark';
  div.style.position = 'fixed';
  div.style.zIndex = '2147483647';
  div.style.pointerEvents = 'none';
  div.style.opacity = String(cfg.opacity);
  const m = '2%%';
  const pos = cfg.position;
  const tr = [];
  if (pos.startsWith('top')) div.style.top = m;
  else if (pos.startsWith('bottom')) div.style.bottom = m;
  else { div.style.top = '50%%'; tr.push('translateY(-50%%)'); }
  if (pos.endsWith('left')) div.style.left = m;
  else if (pos.endsWith('right')) div.style.right = m;
  else { div.style.left = '50%%'; tr.push('translateX(-50%%)'); }
  if (tr.length) div.style.transform = tr.join(' ');
  const img = document.createElement('img');
  img.src = cfg.src;
  img.style.height = cfg.height + 'vh';
  img.style.width = 'auto';
  img.style.maxWidth = '100vw';
  img.style.objectFit = 'contain';
  img.style.display = 'block';
  div.appendChild(img);
  document.body.appendChild(div);
  return {ok: true};
})(%s)`

func seekJS(ms float64) string {
	return fmt.Sprintf(seekScript, formatNumber(ms))
}

func slowMotionJS(speed float64) string {
	return fmt.Sprintf(slowMotionScript, formatNumber(speed))
}

func overlayJS(o Overlay) (string, error) {
	cfg, err := json.Marshal(struct {
		Src      string  `json:"src"`
		Position string  `json:"position"`
		Opacity  float64 `json:"opacity"`
		Height   float64 `json:"height"`
	}{o.DataURI, o.Position, o.Opacity, o.HeightVH})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(overlayScript, cfg), nil
}

func formatNumber(v float64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
